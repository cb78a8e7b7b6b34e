// Package workflow glues the core pieces together: the selector gates which
// locations generate, the coordinator answers from cache, and the flight
// orchestrator drives the two-step generation call (prompt, then image)
// against an external service.
//
// The host side stays behind narrow interfaces: a text provider, a
// generation client, and a presentation sink. The workflow never depends on
// the host's full object shape.
package workflow

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/artcache"
	"github.com/unkn0wn-root/artcache/flight"
	"github.com/unkn0wn-root/artcache/selector"
)

// TextProvider returns the raw text for a location. Extraction and
// normalization heuristics live on the host side.
type TextProvider interface {
	Text(ctx context.Context, owner, location string) (string, error)
}

// GenerationClient is the minimal contract with the external generation
// service. Implementations classify their failures with
// artcache.TransientError / artcache.PermanentError so the orchestrator can
// decide whether to retry, and honor ctx for aborting in-flight calls.
type GenerationClient interface {
	GeneratePrompt(ctx context.Context, location, text string) (string, error)
	GenerateImage(ctx context.Context, location, prompt string) ([]byte, error)
}

// Sink accepts a completed payload for display. No further requirements.
type Sink interface {
	Present(owner, location string, payload []byte)
}

type Options struct {
	Cache        *artcache.Coordinator[[]byte] // required
	Orchestrator *flight.Orchestrator          // required
	Text         TextProvider                  // required
	Client       GenerationClient              // required
	Sink         Sink                          // required
	Selector     *selector.Selector            // nil => fresh selector
	Logger       artcache.Logger               // nil => NopLogger
}

type Workflow struct {
	cache *artcache.Coordinator[[]byte]
	orch  *flight.Orchestrator
	sel   *selector.Selector
	text  TextProvider
	gen   GenerationClient
	sink  Sink
	log   artcache.Logger
}

func New(opts Options) (*Workflow, error) {
	if opts.Cache == nil || opts.Orchestrator == nil {
		return nil, fmt.Errorf("workflow: cache and orchestrator are required")
	}
	if opts.Text == nil || opts.Client == nil || opts.Sink == nil {
		return nil, fmt.Errorf("workflow: text provider, client and sink are required")
	}
	w := &Workflow{
		cache: opts.Cache,
		orch:  opts.Orchestrator,
		sel:   opts.Selector,
		text:  opts.Text,
		gen:   opts.Client,
		sink:  opts.Sink,
		log:   opts.Logger,
	}
	if w.sel == nil {
		w.sel = selector.New()
	}
	if w.log == nil {
		w.log = artcache.NopLogger{}
	}
	return w, nil
}

// HydrateOwner starts an owner session: selection state is reset and the
// owner's persisted entries are bulk-loaded into the memory tier.
func (w *Workflow) HydrateOwner(ctx context.Context, owner string) error {
	w.sel.ResetForOwner(owner)
	return w.cache.Hydrate(ctx, owner)
}

// HandleLocation reacts to the host reaching a location. Cached completed
// work is re-presented; cached failures are remembered and skipped (fail
// once); ineligible locations are ignored; otherwise generation is
// orchestrated and the outcome cached. Failures for one location never
// interrupt work on other keys.
func (w *Workflow) HandleLocation(ctx context.Context, owner, location string) {
	key := artcache.NewKey(owner, location)

	e, ok, err := w.cache.Get(ctx, key)
	if err != nil {
		// degraded read; proceed as a miss
		w.log.Warn("cache read failed", artcache.Fields{"key": key.String(), "err": err})
	}
	if ok {
		switch e.Status {
		case artcache.StatusCompleted:
			w.sink.Present(owner, location, e.Payload)
			return
		case artcache.StatusError:
			// fail once, remember the failure
			return
		case artcache.StatusGenerating:
			return
		}
	}

	if !w.sel.ShouldSelect(owner, location) {
		return
	}
	w.generate(ctx, key)
}

// generate runs the prompt and image calls under single-flight for key and
// records the outcome: completed with the payload, error on terminal failure,
// or removal of the in-flight marker on cancellation.
func (w *Workflow) generate(ctx context.Context, key artcache.Key) {
	k := key.String()

	if err := w.cache.Set(ctx, key, artcache.Generating[[]byte]()); err != nil {
		// memory tier has the marker; durability is degraded
		w.log.Warn("persisting in-flight marker failed", artcache.Fields{"key": k, "err": err})
	}

	prompt := flight.Execute(ctx, w.orch, k, func(ctx context.Context) (string, error) {
		text, err := w.text.Text(ctx, key.Owner, key.Location)
		if err != nil {
			return "", err
		}
		return w.gen.GeneratePrompt(ctx, key.Location, text)
	})
	if prompt.Cancelled {
		w.dropMarker(ctx, key)
		return
	}
	if !prompt.Success {
		w.recordFailure(ctx, key, prompt.Err)
		return
	}

	image := flight.Execute(ctx, w.orch, k, func(ctx context.Context) ([]byte, error) {
		return w.gen.GenerateImage(ctx, key.Location, prompt.Data)
	})
	if image.Cancelled {
		w.dropMarker(ctx, key)
		return
	}
	if !image.Success {
		w.recordFailure(ctx, key, image.Err)
		return
	}

	if err := w.cache.Set(ctx, key, artcache.Completed(image.Data)); err != nil {
		w.log.Warn("persisting completed entry failed", artcache.Fields{"key": k, "err": err})
	}
	w.sink.Present(key.Owner, key.Location, image.Data)
}

// ResetStuck deletes generating entries left behind by a crash or reload:
// anything marked in-flight in the memory tier with no active flight marker.
// Returns how many were dropped.
func (w *Workflow) ResetStuck(ctx context.Context) int {
	dropped := 0
	for _, ke := range w.cache.GeneratingEntries() {
		if w.orch.HasActive(ke.Key.String()) {
			continue
		}
		if removed, err := w.cache.Delete(ctx, ke.Key); err != nil {
			w.log.Warn("dropping stuck entry failed", artcache.Fields{"key": ke.Key.String(), "err": err})
		} else if removed {
			dropped++
		}
	}
	return dropped
}

// CancelAll aborts every in-flight generation.
func (w *Workflow) CancelAll() int { return w.orch.CancelAll() }

func (w *Workflow) dropMarker(ctx context.Context, key artcache.Key) {
	if _, err := w.cache.Delete(ctx, key); err != nil {
		w.log.Warn("removing cancelled marker failed", artcache.Fields{"key": key.String(), "err": err})
	}
}

func (w *Workflow) recordFailure(ctx context.Context, key artcache.Key, cause error) {
	msg := "generation failed"
	if cause != nil {
		msg = cause.Error()
	}
	if err := w.cache.Set(ctx, key, artcache.Failed[[]byte](msg)); err != nil {
		w.log.Warn("persisting failure entry failed", artcache.Fields{"key": key.String(), "err": err})
	}
}
