package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prezlab/nasma/backend/internal/api/chat"
	apihttp "github.com/prezlab/nasma/backend/internal/api/http"
	"github.com/prezlab/nasma/backend/internal/api/ws"
	"github.com/prezlab/nasma/backend/internal/collaborators/docgen"
	"github.com/prezlab/nasma/backend/internal/collaborators/events"
	"github.com/prezlab/nasma/backend/internal/collaborators/llm"
	"github.com/prezlab/nasma/backend/internal/collaborators/odoo"
	"github.com/prezlab/nasma/backend/internal/domain/conversation"
	"github.com/prezlab/nasma/backend/internal/domain/documents"
	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/flow/loghours"
	"github.com/prezlab/nasma/backend/internal/domain/flow/newuser"
	"github.com/prezlab/nasma/backend/internal/domain/flow/overtime"
	"github.com/prezlab/nasma/backend/internal/domain/flow/reimbursement"
	"github.com/prezlab/nasma/backend/internal/domain/flow/timeoff"
	"github.com/prezlab/nasma/backend/internal/domain/identity"
	"github.com/prezlab/nasma/backend/internal/domain/intent"
	"github.com/prezlab/nasma/backend/internal/domain/requests"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/infrastructure/database"
	"github.com/prezlab/nasma/backend/internal/infrastructure/logging"
	"github.com/prezlab/nasma/backend/internal/infrastructure/monitoring"
	"github.com/prezlab/nasma/backend/internal/infrastructure/server"
	"github.com/prezlab/nasma/backend/internal/infrastructure/tracing"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
)

// core is what every command needs: the session manager, its store and
// the lifecycle event sinks.
type core struct {
	cfg        *config.Config
	log        *logging.Logger
	metrics    *monitoring.Metrics
	sessions   *session.Manager
	audit      *events.Audit
	dispatcher *events.Dispatcher
	closers    []func()
	running    bool
}

func openCore(cfg *config.Config, log *logging.Logger) (*core, error) {
	c := &core{cfg: cfg, log: log, metrics: monitoring.NewMetrics()}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	var (
		store session.Store
		db    *gorm.DB
	)
	switch strings.ToLower(cfg.Session.Backend) {
	case "", "file":
		fs, err := session.NewFileStore(cfg.Session.Dir, log.Component("sessions"))
		if err != nil {
			return nil, err
		}
		store = fs
	case "table", "sql", "sqlite", "postgres":
		var err error
		db, err = database.Open(cfg.Session.DSN, log.Component("db"))
		if err != nil {
			return nil, err
		}
		c.onClose(func() { _ = database.Close(db) })
		ts, err := session.NewTableStore(db, log.Component("sessions"))
		if err != nil {
			return nil, err
		}
		store = ts
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	var sinks []events.Sink
	if cfg.Events.Audit {
		auditDB := db
		if auditDB == nil {
			var err error
			auditDB, err = database.Open(cfg.Events.AuditDSN, log.Component("db"))
			if err != nil {
				return nil, err
			}
			c.onClose(func() { _ = database.Close(auditDB) })
		}
		audit, err := events.NewAudit(auditDB, log.Component("audit"))
		if err != nil {
			return nil, err
		}
		c.audit = audit
		sinks = append(sinks, audit)
	}
	if cfg.Events.AMQPURL != "" {
		pub, err := events.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, log.Component("amqp"))
		if err != nil {
			// The broker is optional; flows keep working without it.
			log.Warn("flow events publisher unavailable", zap.Error(err))
		} else {
			c.onClose(pub.Close)
			sinks = append(sinks, pub)
		}
	}
	c.dispatcher = events.NewDispatcher(sinks, events.WithLogger(log.Component("events")))

	c.sessions = session.NewManager(store,
		session.WithTTL(cfg.Session.TTL),
		session.WithTerminalGrace(cfg.Session.TerminalGrace),
		session.WithLogger(log.Component("sessions")),
		session.WithObserver(c.metrics, c.dispatcher),
	)
	ok = true
	return c, nil
}

func (c *core) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// startEvents delivers queued lifecycle events until Close.
func (c *core) startEvents() {
	c.running = true
	go func() {
		_ = c.dispatcher.Run(context.Background())
	}()
}

// Close flushes pending events and releases connections in reverse order.
func (c *core) Close() {
	if c.dispatcher != nil {
		c.dispatcher.Close()
		if c.running {
			c.dispatcher.Wait()
		}
		if n := c.dispatcher.Dropped(); n > 0 {
			c.log.Warn("flow events dropped", zap.Int64("count", n))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// buildServer wires the collaborators, flows and router behind the API.
func (c *core) buildServer() (*server.Server, error) {
	cfg, log := c.cfg, c.log

	tracer := tracing.New("nasma", log.Logger)
	c.onClose(tracer.Close)

	catalog, err := config.LoadCatalog(cfg.Catalog.File)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Catalog.TimeZone)
	if err != nil {
		log.Warn("unknown time zone, using UTC", zap.String("tz", cfg.Catalog.TimeZone), zap.Error(err))
		loc = time.UTC
	}
	parser := dates.NewParser(loc)

	erp := odoo.New(cfg.Odoo,
		odoo.WithRecorder(c.metrics),
		odoo.WithLogger(log.Component("odoo")))
	resolver := identity.NewResolver(erp, identity.WithLogger(log.Component("identity")))

	gen, err := docgen.New(cfg.Docs, docgen.WithLogger(log.Component("docgen")))
	if err != nil {
		return nil, err
	}
	desk := documents.New(gen,
		documents.WithParser(parser),
		documents.WithRecorder(c.metrics),
		documents.WithLogger(log.Component("documents")))

	onboarding := newuser.New(c.sessions, erp, catalog,
		newuser.WithAgreements(gen),
		newuser.WithLogger(log.Component("newuser")))
	flows := []flow.Flow{
		timeoff.New(c.sessions, erp, catalog,
			timeoff.WithDateParser(parser),
			timeoff.WithLogger(log.Component("timeoff"))),
		overtime.New(c.sessions, erp, catalog,
			overtime.WithDateParser(parser),
			overtime.WithLogger(log.Component("overtime"))),
		loghours.New(c.sessions, erp, catalog,
			loghours.WithDateParser(parser),
			loghours.WithLogger(log.Component("loghours"))),
		reimbursement.New(c.sessions, erp, catalog,
			reimbursement.WithDateParser(parser),
			reimbursement.WithLogger(log.Component("reimbursement"))),
		onboarding,
	}

	routerOpts := []intent.Option{
		intent.WithRequests(requests.New(erp, requests.WithLogger(log.Component("requests")))),
		intent.WithDocuments(desk),
		intent.WithRecorder(c.metrics),
		intent.WithTracer(tracer),
		intent.WithLogger(log.Component("router")),
	}
	if cfg.LLM.APIKey != "" {
		history, err := conversation.NewHistory(cfg.LLM.HistoryDir, cfg.LLM.MaxHistory, log.Component("history"))
		if err != nil {
			return nil, err
		}
		model := llm.New(cfg.LLM, log.Component("llm"))
		routerOpts = append(routerOpts, intent.WithAssistant(
			conversation.NewAssistant(model, history, conversation.WithLogger(log.Component("assistant")))))
	} else {
		log.Warn("OPENAI_API_KEY not set, free-form questions get the fallback reply")
	}
	router := intent.New(c.sessions, catalog, flows, routerOpts...)

	svc := chat.NewService(router, resolver,
		chat.WithTimeout(cfg.Server.TurnTimeout),
		chat.WithLogger(log.Component("chat")))

	deps := apihttp.Deps{
		Chat:     svc,
		Sessions: c.sessions,
		Sheets:   onboarding,
		ERP:      erp,
		Drafts:   desk,
		Metrics:  c.metrics,
		LogLevel: log.Level(),
		Logger:   log.Component("api"),
	}
	if c.audit != nil {
		deps.Events = c.audit
	}

	return server.New(cfg, server.Deps{
		Handlers: apihttp.NewHandlers(deps),
		Stream:   ws.NewHandler(svc, c.metrics, log.Component("ws"), originChecker(cfg.Server.CORSOrigins)),
		Metrics:  c.metrics,
		Tracer:   tracer,
		DocsDir:  gen.Dir(),
		Logger:   log.Component("server"),
	}), nil
}

// originChecker allows websocket origins from the CORS list; a wildcard
// allows all.
func originChecker(origins []string) func(string) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	if len(allowed) == 0 {
		return nil
	}
	return func(origin string) bool {
		return allowed[strings.TrimRight(origin, "/")]
	}
}
