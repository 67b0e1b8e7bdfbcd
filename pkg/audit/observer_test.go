package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envhub/env-registry/pkg/envreg"
)

func TestOutcomeFromEvent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"committed", nil, OutcomeSuccess},
		{"bad signature", envreg.ErrAuthenticationFailed, OutcomeDenied},
		{"unknown namespace", envreg.ErrNamespaceNotRegistered, OutcomeDenied},
		{"user error", envreg.ErrVersionAlreadyExists, OutcomeFailure},
		{"system error", errors.New("disk full"), OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeFromEvent(envreg.RegistrationEvent{Err: tt.err}))
		})
	}
}

func TestRecorder_RegistrationFinished(t *testing.T) {
	store := NewAuditStore(newTestDB(t))
	rec := NewRecorder(store, nil, nil)
	ctx := context.Background()

	rec.RegistrationFinished(ctx, envreg.RegistrationEvent{
		Kind:      envreg.KindVersion,
		Name:      "sample.top",
		Version:   "0.0.3",
		Namespace: "sample",
		State:     envreg.StateCommitted,
		Latest:    true,
		Duration:  1500 * time.Millisecond,
	})
	rec.RegistrationFinished(ctx, envreg.RegistrationEvent{
		Kind:    envreg.KindVersion,
		Name:    "sample.top",
		Version: "0.0.3",
		State:   envreg.StatePersisting,
		Err:     envreg.ErrVersionAlreadyExists,
	})
	rec.RegistrationFinished(ctx, envreg.RegistrationEvent{
		Kind:  envreg.KindVersion,
		Name:  "sample.top",
		State: envreg.StatePersisting,
		Err:   errors.New("connection refused"),
	})

	events, _, total, err := store.ListFiltered(ctx, ListFilter{Name: "sample.top"}, 10, "")
	require.NoError(t, err)
	require.Equal(t, 3, total)

	byOutcome := map[string]AuditEventRecord{}
	for _, ev := range events {
		byOutcome[ev.Outcome] = ev
	}

	ok := byOutcome[OutcomeSuccess]
	assert.Equal(t, "sample", ok.Namespace)
	assert.True(t, ok.Latest)
	assert.Equal(t, int64(1500), ok.DurationMs)
	assert.Equal(t, "committed", ok.EventMetadata["state"])

	failed := byOutcome[OutcomeFailure]
	assert.Equal(t, string(envreg.CodeVersionAlreadyExists), failed.Code)
	assert.NotEmpty(t, failed.Reason)

	sysErr := byOutcome[OutcomeError]
	assert.Equal(t, "INTERNAL", sysErr.Code)
	assert.Empty(t, sysErr.Reason, "system error details stay in the server log")
}

func TestRecorder_SkipsDeniedWhenConfigured(t *testing.T) {
	store := NewAuditStore(newTestDB(t))
	rec := NewRecorder(store, &AuditConfig{Enabled: true, LogDenied: false}, nil)
	ctx := context.Background()

	rec.RegistrationFinished(ctx, envreg.RegistrationEvent{Kind: envreg.KindVersion, Name: "sample", Err: envreg.ErrAuthenticationFailed})
	rec.RegistrationFinished(ctx, envreg.RegistrationEvent{Kind: envreg.KindVersion, Name: "sample", Err: envreg.ErrMalformedVersion})

	events, _, total, err := store.ListFiltered(ctx, ListFilter{}, 10, "")
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, OutcomeFailure, events[0].Outcome)
}

func TestRecorder_Disabled(t *testing.T) {
	store := NewAuditStore(newTestDB(t))
	rec := NewRecorder(store, &AuditConfig{Enabled: false}, nil)
	ctx := context.Background()

	rec.RegistrationFinished(ctx, envreg.RegistrationEvent{Kind: envreg.KindNamespace, Name: "sample"})

	_, _, total, err := store.ListFiltered(ctx, ListFilter{}, 10, "")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRecorder_WritesAfterRequestCancelled(t *testing.T) {
	store := NewAuditStore(newTestDB(t))
	rec := NewRecorder(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.RegistrationFinished(ctx, envreg.RegistrationEvent{Kind: envreg.KindNamespace, Name: "sample"})

	_, _, total, err := store.ListFiltered(context.Background(), ListFilter{}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
