package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValentinKolb/dDoc/lib/engine"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("rpc")

// serverDatabase is a database served by the RPC server. It owns the
// engine and the adapter that handles requests for it.
type serverDatabase struct {
	Engine  *engine.Engine
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		databases:  xsync.NewMapOf[uint64, serverDatabase](),
	}
}

// RPCServer serves the configured databases over a transport.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	databases  *xsync.MapOf[uint64, serverDatabase]
}

// handle processes a single serialized request for a database
func (s *RPCServer) handle(dbID uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	if database, ok := s.databases.Load(dbID); !ok {
		respMsg = common.NewErrorResponse(fmt.Sprintf("database %d not found", dbID))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = database.Adapter.Handle(&msg)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response for database %d: %v", dbID, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// init opens the engine of every configured database. Engines opened before
// a failure are closed again.
func (s *RPCServer) init() error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}
	Logger.Infof("%s", s.config.String())

	for _, dbConfig := range s.config.Databases {
		e, err := engine.Open(s.config.DatabaseDir(dbConfig.ID), s.config.EngineOptions())
		if err != nil {
			return errors.Join(fmt.Errorf("database %d: %w", dbConfig.ID, err), s.closeDatabases())
		}

		var adapter IRPCServerAdapter
		switch dbConfig.Type {
		case common.DatabaseTypeStore:
			adapter = NewIStoreServerAdapter(lstore.NewLocalStore(e))
		case common.DatabaseTypeLockManager:
			adapter = NewLockManagerServerAdapter(lstore.NewLocalStore(e))
		}
		s.databases.Store(dbConfig.ID, serverDatabase{Engine: e, Adapter: adapter})

		report := e.RecoveryReport()
		Logger.Infof("opened %s database %d (checkpoint %d, %d records replayed, %s discarded, %s)",
			dbConfig.Type, dbConfig.ID, report.CheckpointSeq, report.Replayed,
			humanize.IBytes(uint64(report.TruncatedBytes)), report.Duration)
	}

	s.transport.RegisterHandler(s.handle)
	Logger.Infof("dDoc setup completed successfully")
	return nil
}

// closeDatabases closes all engines and removes them from the server
func (s *RPCServer) closeDatabases() error {
	var errs []error
	s.databases.Range(func(id uint64, database serverDatabase) bool {
		if err := database.Engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database %d: %w", id, err))
		} else {
			Logger.Infof("closed database %d at sequence %d", id, database.Engine.LastSeq())
		}
		s.databases.Delete(id)
		return true
	})
	return errors.Join(errs...)
}

// Serve starts the RPC server and blocks until SIGINT or SIGTERM is received.
// All engines are closed before Serve returns.
func (s *RPCServer) Serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.ServeContext(ctx)
}

// ServeContext starts the RPC server and blocks until ctx is done or the
// transport fails. All engines are closed before ServeContext returns.
func (s *RPCServer) ServeContext(ctx context.Context) error {
	if err := s.init(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.transport.Listen(s.config)
		if err == nil && ctx.Err() == nil {
			err = errors.New("transport stopped unexpectedly")
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		Logger.Infof("shutting down")
		return s.transport.Close()
	})

	err := g.Wait()
	return errors.Join(err, s.closeDatabases())
}
