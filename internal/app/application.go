package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/impnet/service_layer/internal/app/money"
	"github.com/impnet/service_layer/internal/app/realtime"
	chatsvc "github.com/impnet/service_layer/internal/app/services/chat"
	"github.com/impnet/service_layer/internal/app/services/ledger"
	"github.com/impnet/service_layer/internal/app/services/payroll"
	"github.com/impnet/service_layer/internal/app/storage"
	"github.com/impnet/service_layer/internal/app/storage/memory"
	redisstore "github.com/impnet/service_layer/internal/app/storage/redis"
	"github.com/impnet/service_layer/internal/app/system"
	"github.com/impnet/service_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Ledger  storage.LedgerStore
	Payroll storage.PayrollStore
	Chat    storage.ChatStore
}

// Relay carries realtime events between instances.
type Relay interface {
	system.Service
	Publish(ctx context.Context, data []byte) error
	OnMessage(handler func([]byte))
}

// Options tunes the composed services. The zero value is usable.
type Options struct {
	Ledger          ledger.Config
	Codec           money.Codec
	PayrollSchedule string
	// PayrollLocker serializes payroll runs. Nil means a process-local lock.
	PayrollLocker payroll.Locker
	// Relay is optional; without it events reach local connections only.
	Relay Relay
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Codec       money.Codec
	Ledger      *ledger.Engine
	Payroll     *payroll.Processor
	Scheduler   *payroll.Scheduler
	Chat        *chatsvc.Service
	Registry    *realtime.Registry
	Distributor *realtime.Distributor
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Payroll == nil {
		stores.Payroll = mem
	}
	if stores.Chat == nil {
		stores.Chat = mem
	}
	if opts.Codec.Currency == "" && opts.Codec.Scale == 0 {
		opts.Codec = money.NewCodec(money.DefaultScale, "")
	}

	manager := system.NewManager()

	registry := realtime.NewRegistry(log)
	distributor := realtime.NewDistributor(registry, opts.Codec, log)

	engine := ledger.New(stores.Ledger, opts.Ledger, log)
	engine.AttachPublisher(distributor)

	chatService := chatsvc.New(stores.Chat, log)
	chatService.AttachPublisher(distributor)

	processor := payroll.New(engine, stores.Payroll, opts.PayrollLocker, log)
	scheduler, err := payroll.NewScheduler(processor, opts.PayrollSchedule, log)
	if err != nil {
		return nil, fmt.Errorf("configure payroll scheduler: %w", err)
	}

	services := []system.Service{registry, distributor}
	if opts.Relay != nil {
		opts.Relay.OnMessage(distributor.DeliverRemote)
		distributor.AttachRelay(opts.Relay)
		services = append(services, opts.Relay)
	}
	services = append(services, scheduler)

	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Codec:       opts.Codec,
		Ledger:      engine,
		Payroll:     processor,
		Scheduler:   scheduler,
		Chat:        chatService,
		Registry:    registry,
		Distributor: distributor,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the managed services in start order.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// PayrollLocker adapts a Redis lock to the payroll processor, reporting a
// lock held elsewhere as payroll.ErrRunInProgress.
func PayrollLocker(l *redisstore.Locker) payroll.Locker {
	return redisPayrollLocker{locker: l}
}

type redisPayrollLocker struct {
	locker *redisstore.Locker
}

func (l redisPayrollLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	err := l.locker.WithLock(ctx, key, fn)
	if errors.Is(err, redisstore.ErrLockHeld) {
		return fmt.Errorf("%w: %v", payroll.ErrRunInProgress, err)
	}
	return err
}
