package statusquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"statuswatch-backend/lib/restyutil"
	"statuswatch-backend/lib/scrapers/vantage"

	"github.com/mazen160/go-random"
)

// Runner executes one account query against the portal. The service
// only depends on this interface, so tests drive the dispatcher with a
// scripted runner and no network.
type Runner interface {
	RunQuery(ctx context.Context, identifier string) (*vantage.Result, error)
}

// PortalRunner is the production runner: fetch the account page inside
// the shared session, extract, and fall back to a headless render when
// the static page cannot resolve the account indicator. Pages that
// still fail extraction are dumped for selector debugging.
type PortalRunner struct {
	Session *vantage.Session
	Engine  *vantage.Engine
	// Renderer is optional. Portal deployments that fill the account
	// overview client side need it; the rest resolve on the static
	// page and never touch a browser.
	Renderer *vantage.Renderer
	// Dumps is optional.
	Dumps *restyutil.FilesystemOutput
}

func (r PortalRunner) RunQuery(ctx context.Context, identifier string) (*vantage.Result, error) {
	var result *vantage.Result
	err := r.Session.WithSession(ctx, func(ctx context.Context, client *vantage.Client) error {
		snap, err := client.FetchAccountPage(ctx, identifier)
		if err != nil {
			return err
		}
		res, err := r.extract(ctx, client, identifier, snap)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r PortalRunner) extract(ctx context.Context, client *vantage.Client, identifier string, snap *vantage.Snapshot) (*vantage.Result, error) {
	result, err := r.Engine.Extract(ctx, identifier, snap)
	if err == nil {
		return result, nil
	}

	var incomplete *vantage.ExtractionIncompleteError
	if !errors.As(err, &incomplete) || r.Renderer == nil {
		r.dump(ctx, identifier, snap, err)
		return nil, err
	}

	slog.InfoContext(
		ctx, "static page did not resolve, retrying with headless render",
		"identifier", identifier,
		"missing_field", incomplete.MissingField,
	)
	rendered, renderErr := r.Renderer.RenderAccountPage(ctx, client, identifier)
	if renderErr != nil {
		slog.WarnContext(ctx, "headless render failed", "identifier", identifier, "err", renderErr)
		r.dump(ctx, identifier, snap, err)
		return nil, err
	}
	result, err = r.Engine.Extract(ctx, identifier, rendered)
	if err != nil {
		r.dump(ctx, identifier, rendered, err)
		return nil, err
	}
	return result, nil
}

// dump writes the page that failed extraction so the selector catalog
// can be fixed against the portal's current markup.
func (r PortalRunner) dump(ctx context.Context, identifier string, snap *vantage.Snapshot, cause error) {
	if r.Dumps == nil {
		return
	}
	id, err := random.String(8)
	if err != nil {
		return
	}
	name := fmt.Sprintf("extract-%s.html", id)
	r.Dumps.Write(name, string(snap.Raw()))
	slog.WarnContext(
		ctx, "dumped page that failed extraction",
		"identifier", identifier,
		"file", name,
		"err", cause,
	)
}
