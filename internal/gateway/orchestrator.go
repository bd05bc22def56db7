// Package gateway wires the credential pool, translator, and stream
// transformer together per inbound request, including failover across
// credentials and in-band error surfacing once body bytes have been sent.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/qwenverse/qwenbridge/internal/interfaces"
	"github.com/qwenverse/qwenbridge/internal/logging"
	"github.com/qwenverse/qwenbridge/internal/pool"
	"github.com/qwenverse/qwenbridge/internal/sse"
	"github.com/qwenverse/qwenbridge/internal/translator"
)

// defaultRetries is the number of additional credential re-selections allowed
// before any outward byte has been sent.
const defaultRetries = 2

// UpstreamClient is the data-path surface the orchestrator consumes.
type UpstreamClient interface {
	OpenSession(ctx context.Context, bearer, model, chatType string) (string, error)
	Dispatch(ctx context.Context, bearer, chatID string, payload []byte, stream bool) (io.ReadCloser, error)
}

// Orchestrator handles one logical request end to end.
type Orchestrator struct {
	pool       *pool.Pool
	upstream   UpstreamClient
	translator *translator.Translator
	janitor    *Janitor
	retries    int
}

// New creates an orchestrator. janitor may be nil; retries < 0 selects the
// default of 2 additional attempts.
func New(credPool *pool.Pool, upstream UpstreamClient, trans *translator.Translator, janitor *Janitor, retries int) *Orchestrator {
	if retries < 0 {
		retries = defaultRetries
	}
	return &Orchestrator{
		pool:       credPool,
		upstream:   upstream,
		translator: trans,
		janitor:    janitor,
		retries:    retries,
	}
}

// Result is an aggregated non-streaming response.
type Result struct {
	// Content is the full assistant reply.
	Content string
	// Model echoes the inbound model name.
	Model string
	// UsedFallback records a silent vision-model substitution.
	UsedFallback bool
}

// StreamResult carries a live outward frame stream.
type StreamResult struct {
	// Frames delivers outward frames in upstream record order. Closed after
	// the final frame.
	Frames <-chan sse.Frame
	// Model echoes the inbound model name.
	Model string
	// UsedFallback records a silent vision-model substitution.
	UsedFallback bool
}

// dispatched is one successfully opened upstream response.
type dispatched struct {
	credID string
	chatID string
	body   io.ReadCloser
}

// dispatchWithFailover runs select → open session → translate → dispatch,
// re-selecting a credential on upstream failure up to the retry budget. A
// retry always opens a fresh session: sessions are bound to one credential
// and are not portable.
func (o *Orchestrator) dispatchWithFailover(ctx context.Context, plan translator.Plan, rawJSON []byte, stream bool) (dispatched, *interfaces.ErrorMessage) {
	var lastErr error
	lastCredID := ""
	for attempt := 0; attempt <= o.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return dispatched{}, interfaces.NewErrorMessage(499, err)
		}

		cred := o.pool.SelectAvailable()
		if cred != nil && cred.ID == lastCredID && o.pool.Len() > 1 {
			// Prefer an alternative over the credential that just failed.
			if alt := o.pool.SelectAvailable(); alt != nil {
				cred = alt
			}
		}
		if cred == nil {
			return dispatched{}, interfaces.NewErrorMessage(http.StatusUnauthorized, interfaces.ErrNoCredential)
		}
		lastCredID = cred.ID
		entry := logging.FromContext(ctx).WithField("credential", cred.ID).WithField("attempt", attempt)

		chatID, err := o.upstream.OpenSession(ctx, cred.BearerToken, plan.Spec.Model, plan.ChatType())
		if err != nil {
			entry.Warnf("gateway: open session failed: %v", err)
			o.pool.ReportFailure(cred.ID, err)
			lastErr = err
			continue
		}

		payload, err := o.translator.Build(ctx, plan, rawJSON, chatID)
		if err == nil {
			err = translator.Validate(payload)
		}
		if err != nil {
			// Local failure: never sent upstream, never retried, no pool
			// accounting.
			return dispatched{}, interfaces.NewErrorMessage(translator.StatusFor(err), err)
		}

		body, err := o.upstream.Dispatch(ctx, cred.BearerToken, chatID, payload, stream)
		if err != nil {
			entry.Warnf("gateway: dispatch failed: %v", err)
			o.pool.ReportFailure(cred.ID, err)
			lastErr = err
			continue
		}

		o.pool.ReportSuccess(cred.ID)
		o.janitor.Track(chatID, cred.BearerToken)
		entry.WithField("chat_id", chatID).Debug("gateway: dispatched")
		return dispatched{credID: cred.ID, chatID: chatID, body: body}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("gateway: no attempt could be made")
	}
	status := http.StatusBadGateway
	var upstreamErr interfaces.StatusError
	if errors.As(lastErr, &upstreamErr) && upstreamErr.StatusCode() == http.StatusTooManyRequests {
		// Every credential hit the upstream rate limit; let the caller back off.
		status = http.StatusTooManyRequests
	}
	return dispatched{}, interfaces.NewErrorMessage(status, fmt.Errorf("gateway: upstream failed after %d attempt(s): %w", o.retries+1, lastErr))
}

// Complete handles a non-streaming request and returns the aggregated
// response content.
func (o *Orchestrator) Complete(ctx context.Context, rawJSON []byte) (Result, *interfaces.ErrorMessage) {
	plan := o.translator.PlanRequest(rawJSON)
	d, errMsg := o.dispatchWithFailover(ctx, plan, rawJSON, false)
	if errMsg != nil {
		return Result{}, errMsg
	}
	defer func() {
		_ = d.body.Close()
	}()

	content, err := sse.New().Collect(ctx, d.body)
	if err != nil {
		o.pool.ReportFailure(d.credID, err)
		return Result{}, interfaces.NewErrorMessage(http.StatusBadGateway, fmt.Errorf("gateway: read upstream response: %w", err))
	}
	return Result{Content: content, Model: plan.RequestedModel, UsedFallback: plan.UsedFallback}, nil
}

// CompleteStream handles a streaming request. A nil error means the upstream
// accepted the request and frames will follow; every failure past that point
// is surfaced in-band as an error frame followed by the terminal frame,
// because the outward protocol has no way to unsend a partial response.
func (o *Orchestrator) CompleteStream(ctx context.Context, rawJSON []byte) (*StreamResult, *interfaces.ErrorMessage) {
	plan := o.translator.PlanRequest(rawJSON)
	d, errMsg := o.dispatchWithFailover(ctx, plan, rawJSON, true)
	if errMsg != nil {
		return nil, errMsg
	}

	frames := make(chan sse.Frame)
	go o.pump(ctx, d, frames)
	return &StreamResult{Frames: frames, Model: plan.RequestedModel, UsedFallback: plan.UsedFallback}, nil
}

// pump reads the upstream body, feeds the transformer, and forwards frames
// until the terminal frame, upstream EOF, or caller cancellation. The
// upstream connection is released in every exit path.
func (o *Orchestrator) pump(ctx context.Context, d dispatched, frames chan<- sse.Frame) {
	defer close(frames)
	defer func() {
		_ = d.body.Close()
	}()

	emit := func(frame sse.Frame) bool {
		select {
		case frames <- frame:
			return true
		case <-ctx.Done():
			return false
		}
	}

	trans := sse.New()
	chunk := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := d.body.Read(chunk)
		if n > 0 {
			for _, frame := range trans.Feed(chunk[:n]) {
				if !emit(frame) {
					return
				}
			}
			if trans.Done() {
				return
			}
		}
		if err == io.EOF {
			// Flush a trailing unterminated record, then close the response.
			if !trans.Done() {
				for _, frame := range trans.Feed([]byte("\n\n")) {
					if !emit(frame) {
						return
					}
				}
			}
			if !trans.Done() {
				emit(sse.Frame{Final: true})
			}
			return
		}
		if err != nil {
			logging.FromContext(ctx).Warnf("gateway: upstream stream broke: %v", err)
			o.pool.ReportFailure(d.credID, err)
			if !trans.Done() {
				emit(sse.Frame{Delta: fmt.Sprintf("[upstream error: %v]", err), Final: true, Err: true})
			}
			return
		}
	}
}
