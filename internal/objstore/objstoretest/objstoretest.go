// Package objstoretest provides an in-memory object store with Swift
// semantics (ETags, dynamic large-object manifests) for tests.
package objstoretest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/espen/blobmigrate/internal/objstore"
)

type object struct {
	data     []byte
	etag     string
	manifest string
}

// Server holds containers shared by every connection dialed from it.
type Server struct {
	mu         sync.Mutex
	containers map[string]map[string]*object

	// Calls counts operations by name ("ObjectPut", "ContainerCreate", ...).
	calls map[string]int

	dials  int
	closed int

	// CorruptETag, when set, is consulted on every PUT; returning true makes
	// the server report a wrong ETag for that object.
	CorruptETag func(container, object string) bool

	// FailOn, when set, is consulted before every operation; a non-nil
	// return value is returned as the operation's error.
	FailOn func(op, container, object string) error
}

// NewServer returns an empty server.
func NewServer() *Server {
	return &Server{
		containers: make(map[string]map[string]*object),
		calls:      make(map[string]int),
	}
}

// Dial satisfies objstore.DialFunc.
func (s *Server) Dial(ctx context.Context) (objstore.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	return &Conn{srv: s, id: s.dials}, nil
}

// Dials returns the number of connections dialed.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Closed returns the number of connections closed.
func (s *Server) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Calls returns how many times op was invoked.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// CreateContainer creates a container directly.
func (s *Server) CreateContainer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[name]; !ok {
		s.containers[name] = make(map[string]*object)
	}
}

// HasContainer reports whether a container exists.
func (s *Server) HasContainer(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.containers[name]
	return ok
}

// PutObject stores an object directly, creating the container if needed.
func (s *Server) PutObject(container, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[container]
	if !ok {
		c = make(map[string]*object)
		s.containers[container] = c
	}
	c[name] = &object{data: append([]byte(nil), data...), etag: md5Hex(data)}
}

// Object returns the raw stored bytes and manifest header of an object.
func (s *Server) Object(container, name string) (data []byte, manifest string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.containers[container][name]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), o.data...), o.manifest, true
}

// Names lists object names in a container in sorted order.
func (s *Server) Names(container string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.containers[container] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) call(op, container, name string) error {
	s.mu.Lock()
	s.calls[op]++
	fail := s.FailOn
	s.mu.Unlock()
	if fail != nil {
		return fail(op, container, name)
	}
	return nil
}

// resolve returns the content of an object, concatenating segments in name
// order for manifests. Called with s.mu held.
func (s *Server) resolve(container, name string) ([]byte, *object, error) {
	c, ok := s.containers[container]
	if !ok {
		return nil, nil, fmt.Errorf("container %s: %w", container, objstore.ErrNotFound)
	}
	o, ok := c[name]
	if !ok {
		return nil, nil, fmt.Errorf("object %s/%s: %w", container, name, objstore.ErrNotFound)
	}
	if o.manifest == "" {
		return o.data, o, nil
	}

	segContainer, prefix, _ := strings.Cut(o.manifest, "/")
	var names []string
	for n := range s.containers[segContainer] {
		if strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	var buf bytes.Buffer
	for _, n := range names {
		buf.Write(s.containers[segContainer][n].data)
	}
	return buf.Bytes(), o, nil
}

// Conn is one connection to a Server.
type Conn struct {
	srv    *Server
	id     int
	closed bool
}

var _ objstore.Conn = (*Conn)(nil)

// ID identifies the connection in dial order, starting at 1.
func (c *Conn) ID() int { return c.id }

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool { return c.closed }

var errConnClosed = errors.New("objstoretest: connection closed")

func (c *Conn) check(op, container, name string) error {
	if c.closed {
		return errConnClosed
	}
	return c.srv.call(op, container, name)
}

func (c *Conn) ContainerHead(ctx context.Context, container string) error {
	if err := c.check("ContainerHead", container, ""); err != nil {
		return err
	}
	if !c.srv.HasContainer(container) {
		return fmt.Errorf("container %s: %w", container, objstore.ErrNotFound)
	}
	return nil
}

func (c *Conn) ContainerCreate(ctx context.Context, container string) error {
	if err := c.check("ContainerCreate", container, ""); err != nil {
		return err
	}
	c.srv.CreateContainer(container)
	return nil
}

func (c *Conn) ObjectHead(ctx context.Context, container, name string) (objstore.ObjectInfo, error) {
	if err := c.check("ObjectHead", container, name); err != nil {
		return objstore.ObjectInfo{}, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	data, o, err := c.srv.resolve(container, name)
	if err != nil {
		return objstore.ObjectInfo{}, err
	}
	return objstore.ObjectInfo{Size: int64(len(data)), ETag: o.etag, Manifest: o.manifest}, nil
}

func (c *Conn) ObjectPut(ctx context.Context, container, name string, body io.Reader, h objstore.Headers) (string, error) {
	if err := c.check("ObjectPut", container, name); err != nil {
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	cont, ok := c.srv.containers[container]
	if !ok {
		return "", fmt.Errorf("container %s: %w", container, objstore.ErrNotFound)
	}
	etag := md5Hex(data)
	if c.srv.CorruptETag != nil && c.srv.CorruptETag(container, name) {
		etag = md5Hex(append(data, 0))
	}
	cont[name] = &object{data: data, etag: etag, manifest: h[objstore.HeaderObjectManifest]}
	return etag, nil
}

func (c *Conn) ObjectGet(ctx context.Context, container, name string) (io.ReadCloser, objstore.ObjectInfo, error) {
	if err := c.check("ObjectGet", container, name); err != nil {
		return nil, objstore.ObjectInfo{}, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	data, o, err := c.srv.resolve(container, name)
	if err != nil {
		return nil, objstore.ObjectInfo{}, err
	}
	info := objstore.ObjectInfo{Size: int64(len(data)), ETag: o.etag, Manifest: o.manifest}
	return &Body{Reader: bytes.NewReader(append([]byte(nil), data...))}, info, nil
}

func (c *Conn) ObjectDelete(ctx context.Context, container, name string) error {
	if err := c.check("ObjectDelete", container, name); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	cont, ok := c.srv.containers[container]
	if !ok {
		return fmt.Errorf("container %s: %w", container, objstore.ErrNotFound)
	}
	if _, ok := cont[name]; !ok {
		return fmt.Errorf("object %s/%s: %w", container, name, objstore.ErrNotFound)
	}
	delete(cont, name)
	return nil
}

func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.srv.mu.Lock()
	c.srv.closed++
	c.srv.mu.Unlock()
	return nil
}

// Body is a GET response body that records whether it was closed.
type Body struct {
	*bytes.Reader
	Closed bool
}

func (b *Body) Close() error {
	b.Closed = true
	return nil
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
