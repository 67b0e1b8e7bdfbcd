package envreg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/envhub/env-registry/pkg/db"
	"github.com/envhub/env-registry/pkg/version"
)

const tracerName = "github.com/envhub/env-registry/pkg/envreg"

// RegistrationState is a step of a version registration.
type RegistrationState string

const (
	StateAuthenticating        RegistrationState = "authenticating"
	StateValidatingFormat      RegistrationState = "validating_format"
	StateResolvingDependencies RegistrationState = "resolving_dependencies"
	StatePersisting            RegistrationState = "persisting"
	StateCommitted             RegistrationState = "committed"
	StateFailed                RegistrationState = "failed"
)

// Registration kinds reported to observers.
const (
	KindNamespace = "namespace"
	KindVersion   = "version"
	KindUpdate    = "update"
)

// RegistrationEvent describes the outcome of one registration attempt.
type RegistrationEvent struct {
	Kind      string
	Name      string
	Version   string
	Namespace string
	// State is the last state reached: StateCommitted on success, otherwise
	// the state that failed.
	State    RegistrationState
	Latest   bool
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the registration was committed.
func (e RegistrationEvent) Succeeded() bool { return e.Err == nil }

// Code returns the error code of a failed registration, "INTERNAL" for
// system errors and "" on success.
func (e RegistrationEvent) Code() string {
	if e.Err == nil {
		return ""
	}
	if re, ok := AsRegistryError(e.Err); ok {
		return string(re.Code)
	}
	return "INTERNAL"
}

// RegistrationObserver is notified after every registration attempt.
type RegistrationObserver interface {
	RegistrationFinished(ctx context.Context, ev RegistrationEvent)
}

// ObserverFunc adapts a function to RegistrationObserver.
type ObserverFunc func(ctx context.Context, ev RegistrationEvent)

// RegistrationFinished calls f.
func (f ObserverFunc) RegistrationFinished(ctx context.Context, ev RegistrationEvent) { f(ctx, ev) }

// Registrar runs registrations: it authenticates the request, validates it,
// resolves dependencies and persists everything in one transaction.
type Registrar struct {
	db         *gorm.DB
	namespaces *NamespaceRegistry
	catalog    *Catalog
	resolver   *Resolver
	observers  []RegistrationObserver
}

// NewRegistrar creates a new Registrar.
func NewRegistrar(db *gorm.DB, namespaces *NamespaceRegistry, catalog *Catalog, resolver *Resolver) *Registrar {
	return &Registrar{db: db, namespaces: namespaces, catalog: catalog, resolver: resolver}
}

// AddObserver registers an observer. Not safe to call once requests are
// being served.
func (r *Registrar) AddObserver(o RegistrationObserver) {
	r.observers = append(r.observers, o)
}

func (r *Registrar) notify(ctx context.Context, ev RegistrationEvent) {
	for _, o := range r.observers {
		o.RegistrationFinished(ctx, ev)
	}
}

// attempt tracks one registration through its states.
type attempt struct {
	span  trace.Span
	ev    RegistrationEvent
	start time.Time
}

func (r *Registrar) begin(ctx context.Context, op string, ev RegistrationEvent) (context.Context, *attempt) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, op, trace.WithAttributes(
		attribute.String("envreg.kind", ev.Kind),
		attribute.String("envreg.name", ev.Name),
		attribute.String("envreg.version", ev.Version),
	))
	return ctx, &attempt{span: span, ev: ev, start: time.Now()}
}

func (a *attempt) enter(state RegistrationState) {
	a.ev.State = state
	a.span.AddEvent(string(state))
}

func (r *Registrar) finish(ctx context.Context, a *attempt, err error) {
	a.ev.Err = err
	a.ev.Duration = time.Since(a.start)
	if err != nil {
		a.span.AddEvent(string(StateFailed), trace.WithAttributes(
			attribute.String("envreg.failed_state", string(a.ev.State)),
			attribute.String("envreg.code", a.ev.Code()),
		))
		a.span.RecordError(err)
		a.span.SetStatus(codes.Error, err.Error())
	} else {
		a.enter(StateCommitted)
		a.span.SetAttributes(attribute.Bool("envreg.latest", a.ev.Latest))
		a.span.SetStatus(codes.Ok, "")
	}
	a.span.End()
	r.notify(ctx, a.ev)
}

// RegisterNamespace registers a namespace and notifies observers.
func (r *Registrar) RegisterNamespace(ctx context.Context, reg NamespaceRegistration) (ns string, err error) {
	ctx, a := r.begin(ctx, "envreg.RegisterNamespace", RegistrationEvent{Kind: KindNamespace, Name: reg.Namespace, Namespace: reg.Namespace})
	defer func() { r.finish(ctx, a, err) }()

	a.enter(StateAuthenticating)
	return r.namespaces.Register(ctx, reg)
}

// RegisterVersion publishes a new version. Nothing is written unless every
// step succeeds.
func (r *Registrar) RegisterVersion(ctx context.Context, reg VersionRegistration) (res *RegistrationResult, err error) {
	ctx, a := r.begin(ctx, "envreg.RegisterVersion", RegistrationEvent{Kind: KindVersion, Name: reg.Name, Version: reg.Version})
	defer func() { r.finish(ctx, a, err) }()

	a.enter(StateAuthenticating)
	namespace, err := r.namespaces.Authenticate(ctx, reg.Name, reg.Message(), reg.Signature)
	if err != nil {
		return nil, err
	}
	a.ev.Namespace = namespace

	a.enter(StateValidatingFormat)
	if !version.Validate(reg.Version) {
		return nil, newError(CodeMalformedVersion,
			fmt.Sprintf("malformed version %q: version should be %s", reg.Version, version.FormatHint), nil)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	a.enter(StateResolvingDependencies)
	depIDs, err := r.resolver.ResolveIDs(ctx, reg.Name, reg.Dependencies)
	if err != nil {
		return nil, err
	}
	if depIDs == nil {
		return nil, r.dependenciesMissing(ctx, reg.Dependencies)
	}

	a.enter(StatePersisting)
	var latest bool
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lookupVersion(tx, reg.Name, reg.Version)
		if err != nil {
			return err
		}
		if existing != nil {
			return versionExists(reg.Name, reg.Version, nil)
		}

		nameRec, err := r.catalog.ensureName(tx, reg.Name, namespace)
		if err != nil {
			return &conflictError{err: err}
		}
		rec, err := r.catalog.insertVersion(tx, nameRec.ID, reg.Version)
		if err != nil {
			return &conflictError{err: err}
		}
		if err := r.catalog.insertBundles(tx, rec.ID, reg.Bundles); err != nil {
			if db.IsUniqueViolation(err) {
				return newError(CodeDuplicateBundleType,
					fmt.Sprintf("duplicate bundle type in registration of %s@%s: each bundle type may appear once", reg.Name, reg.Version), err)
			}
			return err
		}
		if err := r.resolver.insertEdges(tx, rec.ID, depIDs); err != nil {
			return err
		}
		latest = rec.IsLatest()
		return nil
	})
	if err != nil {
		return nil, r.classifyPersistError(ctx, reg, err)
	}

	a.ev.Latest = latest
	return &RegistrationResult{Name: reg.Name, Version: reg.Version, Namespace: namespace, Latest: latest}, nil
}

// conflictError marks a failure while writing the name or version row,
// where a unique violation means a concurrent registration won.
type conflictError struct {
	err error
}

func (e *conflictError) Error() string { return e.err.Error() }
func (e *conflictError) Unwrap() error { return e.err }

func (r *Registrar) classifyPersistError(ctx context.Context, reg VersionRegistration, err error) error {
	if db.IsTransactionConflict(err) {
		return newError(CodeConcurrentRegistration,
			fmt.Sprintf("registration of %s@%s raced with another transaction, resubmit the registration", reg.Name, reg.Version), err)
	}
	var ce *conflictError
	if !errors.As(err, &ce) {
		return err
	}
	if !db.IsUniqueViolation(ce.err) {
		return ce.err
	}
	// The transaction is gone; look again outside it.
	existing, lookupErr := r.catalog.FindVersion(ctx, reg.Name, reg.Version)
	if lookupErr == nil && existing != nil {
		return versionExists(reg.Name, reg.Version, ce.err)
	}
	return newError(CodeConcurrentRegistration,
		fmt.Sprintf("another version of %s was registered concurrently, resubmit the registration", reg.Name), ce.err)
}

func versionExists(name, ver string, cause error) error {
	return newError(CodeVersionAlreadyExists, fmt.Sprintf("version %s of %s already exists", ver, name), cause)
}

func (r *Registrar) dependenciesMissing(ctx context.Context, deps []DependencyRef) error {
	missing, err := r.resolver.MissingDependencies(ctx, deps)
	if err != nil || len(missing) == 0 {
		return newError(CodeDependenciesMissing, "one or more dependencies are not registered", err)
	}
	names := make([]string, len(missing))
	for i, d := range missing {
		names[i] = d.String()
	}
	return newError(CodeDependenciesMissing, "dependencies not registered: "+strings.Join(names, ", "), nil)
}

// UpdateVersion authenticates an update of a version's uri. Registered
// versions are immutable, so an authenticated update of an existing version
// fails with NotImplemented.
func (r *Registrar) UpdateVersion(ctx context.Context, upd VersionUpdate) (err error) {
	ctx, a := r.begin(ctx, "envreg.UpdateVersion", RegistrationEvent{Kind: KindUpdate, Name: upd.Name, Version: upd.Version})
	defer func() { r.finish(ctx, a, err) }()

	a.enter(StateValidatingFormat)
	if err := upd.Validate(); err != nil {
		return err
	}

	a.enter(StateAuthenticating)
	namespace, err := r.namespaces.Authenticate(ctx, upd.Name, upd.Message(), upd.Signature)
	if err != nil {
		return err
	}
	a.ev.Namespace = namespace

	a.enter(StatePersisting)
	existing, err := r.catalog.FindVersion(ctx, upd.Name, upd.Version)
	if err != nil {
		return err
	}
	if existing == nil {
		return newError(CodeNotFound, fmt.Sprintf("version %s of %s not found", upd.Version, upd.Name), nil)
	}
	return newError(CodeNotImplemented, "updating a registered version is not supported: versions are immutable", nil)
}
