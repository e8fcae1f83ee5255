package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/zsiec/tsprobe/internal/ingest/srt"
)

// Open opens the input named by uri and registers it under that name.
// Accepted forms:
//
//	-                               standard input
//	path, file:///path              a file
//	udp://host:port                 unicast or multicast UDP
//	udp://host:port?iface=eth0      multicast on a specific interface
//	srt://host:port?streamid=key    SRT caller
//	srt://:port?mode=listener       SRT listener, first publisher
func (r *Registry) Open(ctx context.Context, uri string, log *slog.Logger) (*Stream, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, open := r.Get(uri); open {
		return nil, fmt.Errorf("input %q already open", uri)
	}
	input, remote, err := openSource(ctx, uri, log)
	if err != nil {
		return nil, err
	}
	s, err := r.Register(uri, input)
	if err != nil {
		input.Close()
		return nil, err
	}
	s.SetRemoteAddr(remote)
	log.Info("input opened", "component", "ingest", "input", uri, "remote", remote)
	return s, nil
}

func openSource(ctx context.Context, uri string, log *slog.Logger) (io.ReadCloser, string, error) {
	if uri == "-" {
		return os.Stdin, "stdin", nil
	}
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return openFile(uri)
	}

	switch scheme {
	case "file":
		return openFile(rest)
	case "udp":
		u, err := url.Parse(uri)
		if err != nil {
			return nil, "", fmt.Errorf("parsing %q: %w", uri, err)
		}
		return openUDP(u.Host, u.Query().Get("iface"))
	case "srt":
		u, err := url.Parse(uri)
		if err != nil {
			return nil, "", fmt.Errorf("parsing %q: %w", uri, err)
		}
		q := u.Query()
		if q.Get("mode") == "listener" {
			conn, key, err := srt.Accept(ctx, u.Host, q.Get("streamid"), log)
			if err != nil {
				return nil, "", err
			}
			return conn, key, nil
		}
		conn, err := srt.Dial(ctx, u.Host, q.Get("streamid"), log)
		if err != nil {
			return nil, "", err
		}
		return conn, u.Host, nil
	}
	return nil, "", fmt.Errorf("unsupported input scheme %q", scheme)
}

func openFile(path string) (io.ReadCloser, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening input: %w", err)
	}
	return f, path, nil
}

func openUDP(hostport, iface string) (io.ReadCloser, string, error) {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, "", fmt.Errorf("resolving %q: %w", hostport, err)
	}

	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		var ifi *net.Interface
		if iface != "" {
			if ifi, err = net.InterfaceByName(iface); err != nil {
				return nil, "", fmt.Errorf("multicast interface %q: %w", iface, err)
			}
		}
		conn, err = net.ListenMulticastUDP("udp", ifi, addr)
	} else {
		conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		return nil, "", fmt.Errorf("listening on %s: %w", hostport, err)
	}
	return conn, conn.LocalAddr().String(), nil
}
