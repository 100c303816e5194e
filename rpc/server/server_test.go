package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/engine"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/ValentinKolb/dDoc/rpc/transport/tcp"
	"github.com/ValentinKolb/dDoc/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	storeDB = 100
	lockDB  = 200
)

// --------------------------------------------------------------------------
// In-process transport
// --------------------------------------------------------------------------

// loopback is a server transport that is called directly by loopbackClient
type loopback struct {
	handler transport.ServerHandleFunc
	ready   chan struct{}
	stop    chan struct{}
	once    sync.Once
}

func newLoopback() *loopback {
	return &loopback{ready: make(chan struct{}), stop: make(chan struct{})}
}

func (l *loopback) RegisterHandler(handler transport.ServerHandleFunc) { l.handler = handler }

func (l *loopback) Listen(common.ServerConfig) error {
	close(l.ready)
	<-l.stop
	return nil
}

func (l *loopback) Close() error {
	l.once.Do(func() { close(l.stop) })
	return nil
}

type loopbackClient struct{ server *loopback }

func (c loopbackClient) Connect(common.ClientConfig) error { return nil }
func (c loopbackClient) Close() error                      { return nil }
func (c loopbackClient) Send(dbID uint64, req []byte) ([]byte, error) {
	return c.server.handler(dbID, req), nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func testConfig(dataDir, endpoint string) common.ServerConfig {
	return common.ServerConfig{
		Databases: []common.ServerDatabase{
			{ID: storeDB, Type: common.DatabaseTypeStore},
			{ID: lockDB, Type: common.DatabaseTypeLockManager},
		},
		DataDir:       dataDir,
		Endpoint:      endpoint,
		TimeoutSecond: 5,
		LogLevel:      "error",
	}
}

// startServer runs the server until the returned stop function is called,
// stop returns the result of ServeContext
func startServer(t *testing.T, config common.ServerConfig, tr transport.IRPCServerTransport, s serializer.IRPCSerializer) (stop func() error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewRPCServer(config, tr, s).ServeContext(ctx)
	}()

	var once sync.Once
	var result error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-done:
			case <-time.After(10 * time.Second):
				result = fmt.Errorf("server did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func startLoopback(t *testing.T, s serializer.IRPCSerializer) (*loopback, func() error) {
	t.Helper()
	lb := newLoopback()
	stop := startServer(t, testConfig(t.TempDir(), ""), lb, s)
	select {
	case <-lb.ready:
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}
	return lb, stop
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

var testSerializers = map[string]func() serializer.IRPCSerializer{
	"JSON":   serializer.NewJSONSerializer,
	"GOB":    serializer.NewGOBSerializer,
	"Binary": serializer.NewBinarySerializer,
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func runStoreOperations(t *testing.T, s store.IStore) {
	res, err := s.Insert("users",
		doc.New(doc.F("_id", 1), doc.F("name", "ada")),
		doc.New(doc.F("name", "grace")),
	)
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, 2, res.N)
	require.Len(t, res.InsertedIDs, 2)
	assert.Equal(t, int64(1), res.InsertedIDs[0])
	assert.IsType(t, doc.ObjectID{}, res.InsertedIDs[1])

	res, err = s.Insert("users", doc.New(doc.F("_id", 2)), doc.New(doc.F("_id", 1.0)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.N)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, store.RetCDuplicateKey, res.Errors[0].Code)

	d, found, err := s.Get("users", 1)
	require.NoError(t, err)
	require.True(t, found)
	name, _ := d.Get("name")
	assert.Equal(t, "ada", name)

	_, found, err = s.Get("users", 42)
	require.NoError(t, err)
	assert.False(t, found)

	res, err = s.Update("users", doc.New(doc.F("_id", 1), doc.F("name", "lovelace")))
	require.NoError(t, err)
	assert.Equal(t, 1, res.N)

	res, err = s.Update("users", doc.New(doc.F("_id", 42)))
	require.NoError(t, err)
	assert.Equal(t, store.RetCNotFound, res.LastError().Code)

	res, err = s.Delete("users", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.N)

	n, err := s.Count("users")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, s.Fsync(true))
	assert.ErrorIs(t, s.Fsync(true), &store.Error{Code: store.RetCInvalidOperation})
	require.NoError(t, s.FsyncUnlock())

	info, err := s.GetDBInfo()
	require.NoError(t, err)
	assert.Equal(t, 2, info.Count)

	dropped, err := s.Drop("users")
	require.NoError(t, err)
	assert.True(t, dropped)

	n, err = s.Count("users")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreOverRPC(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			lb, _ := startLoopback(t, factory())

			s, err := client.NewRPCStore(storeDB, common.ClientConfig{}, loopbackClient{lb}, factory())
			require.NoError(t, err)
			runStoreOperations(t, s)
		})
	}
}

func TestLockManagerOverRPC(t *testing.T) {
	lb, _ := startLoopback(t, serializer.NewBinarySerializer())

	locks, err := client.NewRPCLockMgr(lockDB, common.ClientConfig{}, loopbackClient{lb}, serializer.NewBinarySerializer())
	require.NoError(t, err)

	ok, owner, err := locks.AcquireLock("res", 30)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = locks.AcquireLock("res", 30)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := locks.ReleaseLock("res", owner)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestWrongDatabase(t *testing.T) {
	lb, _ := startLoopback(t, serializer.NewBinarySerializer())

	// unknown id
	s, err := client.NewRPCStore(999, common.ClientConfig{}, loopbackClient{lb}, serializer.NewBinarySerializer())
	require.NoError(t, err)
	_, err = s.Count("c")
	assert.ErrorContains(t, err, "not found")

	// store operation on a lock database
	s, err = client.NewRPCStore(lockDB, common.ClientConfig{}, loopbackClient{lb}, serializer.NewBinarySerializer())
	require.NoError(t, err)
	_, err = s.Count("c")
	assert.ErrorContains(t, err, "Unsupported message type")
}

func TestMalformedRequest(t *testing.T) {
	lb, _ := startLoopback(t, serializer.NewJSONSerializer())

	req := common.NewInsertRequest("c", [][]byte{[]byte(`{"_id": 1`)})
	data, err := serializer.NewJSONSerializer().Serialize(*req)
	require.NoError(t, err)

	var resp common.Message
	require.NoError(t, serializer.NewJSONSerializer().Deserialize(lb.handler(storeDB, data), &resp))
	assert.Equal(t, common.MsgTDocInsert, resp.MsgType)
	assert.EqualValues(t, store.RetCMalformed, resp.Code)
	assert.NotEmpty(t, resp.Err)
}

func TestShutdownClosesEngines(t *testing.T) {
	dataDir := t.TempDir()
	lb := newLoopback()
	config := testConfig(dataDir, "")
	stop := startServer(t, config, lb, serializer.NewBinarySerializer())
	<-lb.ready

	s, err := client.NewRPCStore(storeDB, common.ClientConfig{}, loopbackClient{lb}, serializer.NewBinarySerializer())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := s.Insert("c", doc.New(doc.F("_id", i)))
		require.NoError(t, err)
	}

	require.NoError(t, stop())

	// the data directory is unlocked and holds every acknowledged write
	e, err := engine.Open(config.DatabaseDir(storeDB), nil)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, 10, e.Count("c"))
}

func TestInvalidConfig(t *testing.T) {
	config := testConfig(t.TempDir(), "")
	config.Databases = append(config.Databases, common.ServerDatabase{ID: storeDB, Type: common.DatabaseTypeStore})

	err := NewRPCServer(config, newLoopback(), serializer.NewBinarySerializer()).ServeContext(context.Background())
	assert.ErrorContains(t, err, "configured twice")
}

func TestSecondServerOnSameDataDir(t *testing.T) {
	dataDir := t.TempDir()
	first := newLoopback()
	startServer(t, testConfig(dataDir, ""), first, serializer.NewBinarySerializer())
	<-first.ready

	err := NewRPCServer(testConfig(dataDir, ""), newLoopback(), serializer.NewBinarySerializer()).ServeContext(context.Background())
	assert.ErrorIs(t, err, engine.ErrStartup)
}

func TestTransports(t *testing.T) {
	cases := []struct {
		name     string
		server   func() transport.IRPCServerTransport
		client   func() transport.IRPCClientTransport
		endpoint func(t *testing.T) string
	}{
		{
			name:     "tcp",
			server:   tcp.NewTCPDefaultServerTransport,
			client:   tcp.NewTCPClientTransport,
			endpoint: freeAddr,
		},
		{
			name:   "unix",
			server: unix.NewUnixDefaultServerTransport,
			client: unix.NewUnixClientTransport,
			endpoint: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "ddoc.sock")
			},
		},
		{
			name:     "http",
			server:   http.NewHttpServerTransport,
			client:   http.NewHttpClientTransport,
			endpoint: freeAddr,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			endpoint := tc.endpoint(t)
			stop := startServer(t, testConfig(t.TempDir(), endpoint), tc.server(), serializer.NewBinarySerializer())

			clientConfig := common.ClientConfig{Endpoints: []string{endpoint}, TimeoutSecond: 5, RetryCount: 3}

			// wait for the listener
			var s store.IStore
			require.Eventually(t, func() bool {
				var err error
				s, err = client.NewRPCStore(storeDB, clientConfig, tc.client(), serializer.NewBinarySerializer())
				if err != nil {
					return false
				}
				_, err = s.Count("c")
				return err == nil
			}, 10*time.Second, 50*time.Millisecond)

			runStoreOperations(t, s)
			require.NoError(t, stop())
		})
	}
}
