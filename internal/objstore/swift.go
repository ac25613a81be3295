package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ncw/swift/v2"
)

// SwiftConfig holds the Keystone/TempAuth credentials for a Swift cluster
type SwiftConfig struct {
	AuthURL        string
	UserName       string
	APIKey         string
	Tenant         string
	Domain         string
	Region         string
	AuthVersion    int // 0 autodetects from the URL
	Timeout        time.Duration
	ConnectTimeout time.Duration
	UserAgent      string
}

// SwiftDialer returns a DialFunc that authenticates a fresh Swift connection
// with its own HTTP transport, so a discarded connection takes its sockets
// with it.
func SwiftDialer(cfg SwiftConfig) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		}
		c := &swift.Connection{
			AuthUrl:        cfg.AuthURL,
			UserName:       cfg.UserName,
			ApiKey:         cfg.APIKey,
			Tenant:         cfg.Tenant,
			Domain:         cfg.Domain,
			Region:         cfg.Region,
			AuthVersion:    cfg.AuthVersion,
			Timeout:        cfg.Timeout,
			ConnectTimeout: cfg.ConnectTimeout,
			UserAgent:      cfg.UserAgent,
			Transport:      transport,
		}
		if err := c.Authenticate(ctx); err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("authenticating to %s: %w", cfg.AuthURL, err)
		}
		return &swiftConn{conn: c, transport: transport}, nil
	}
}

type swiftConn struct {
	conn      *swift.Connection
	transport *http.Transport
}

func (c *swiftConn) ContainerHead(ctx context.Context, container string) error {
	_, _, err := c.conn.Container(ctx, container)
	return mapSwiftError(err)
}

func (c *swiftConn) ContainerCreate(ctx context.Context, container string) error {
	return mapSwiftError(c.conn.ContainerCreate(ctx, container, nil))
}

func (c *swiftConn) ObjectHead(ctx context.Context, container, object string) (ObjectInfo, error) {
	info, h, err := c.conn.Object(ctx, container, object)
	if err != nil {
		return ObjectInfo{}, mapSwiftError(err)
	}
	return ObjectInfo{
		Size:     info.Bytes,
		ETag:     strings.Trim(info.Hash, `"`),
		Manifest: h[HeaderObjectManifest],
	}, nil
}

func (c *swiftConn) ObjectPut(ctx context.Context, container, object string, body io.Reader, h Headers) (string, error) {
	resp, err := c.conn.ObjectPut(ctx, container, object, body, false, "", "application/octet-stream", swift.Headers(h))
	if err != nil {
		return "", mapSwiftError(err)
	}
	return etagOf(resp), nil
}

func (c *swiftConn) ObjectGet(ctx context.Context, container, object string) (io.ReadCloser, ObjectInfo, error) {
	f, h, err := c.conn.ObjectOpen(ctx, container, object, false, nil)
	if err != nil {
		return nil, ObjectInfo{}, mapSwiftError(err)
	}
	info := ObjectInfo{
		ETag:     etagOf(h),
		Manifest: h[HeaderObjectManifest],
	}
	if n, err := strconv.ParseInt(h["Content-Length"], 10, 64); err == nil {
		info.Size = n
	}
	return f, info, nil
}

func (c *swiftConn) ObjectDelete(ctx context.Context, container, object string) error {
	return mapSwiftError(c.conn.ObjectDelete(ctx, container, object))
}

func (c *swiftConn) Close() error {
	c.conn.UnAuthenticate()
	c.transport.CloseIdleConnections()
	return nil
}

func etagOf(h swift.Headers) string {
	etag := h["Etag"]
	if etag == "" {
		etag = h["ETag"]
	}
	return strings.Trim(etag, `"`)
}

// mapSwiftError turns the client's 404 errors into ErrNotFound.
func mapSwiftError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, swift.ContainerNotFound) || errors.Is(err, swift.ObjectNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var se *swift.Error
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
