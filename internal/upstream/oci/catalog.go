package oci

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/identity"
	"golang.org/x/time/rate"

	"github.com/stacklok/inventory-mirror/internal/collector"
	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/hierarchy"
	"github.com/stacklok/inventory-mirror/internal/resource"
	"github.com/stacklok/inventory-mirror/internal/retry"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
)

// UsageDateLayout is the format of daily_cost parent ids
const UsageDateLayout = "2006-01-02"

var errNoHierarchy = errors.New("compartment hierarchy not loaded")

// Catalog builds the hierarchy lister and the sources of the configured kinds
type Catalog struct {
	api        API
	limiter    *rate.Limiter
	homeRegion string
	usageDate  string
}

// CatalogOption configures a Catalog
type CatalogOption func(*Catalog) error

// WithHomeRegion sets the region used for identity and usage calls
func WithHomeRegion(region string) CatalogOption {
	return func(c *Catalog) error {
		if region == "" {
			return errors.New("home region cannot be empty")
		}
		c.homeRegion = region
		return nil
	}
}

// WithUsageDate pins daily_cost to one day instead of yesterday
func WithUsageDate(date string) CatalogOption {
	return func(c *Catalog) error {
		if date == "" {
			return nil
		}
		if _, err := time.Parse(UsageDateLayout, date); err != nil {
			return fmt.Errorf("usage date must be YYYY-MM-DD: %w", err)
		}
		c.usageDate = date
		return nil
	}
}

// NewCatalog creates a Catalog over api. Every call waits on limiter.
func NewCatalog(api API, limiter *rate.Limiter, opts ...CatalogOption) (*Catalog, error) {
	if api == nil {
		return nil, errors.New("api cannot be nil")
	}
	c := &Catalog{api: api, limiter: limiter}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.homeRegion == "" {
		return nil, errors.New("home region is required")
	}
	return c, nil
}

// Lister returns the compartment lister of tenancyID
func (c *Catalog) Lister(tenancyID string) (hierarchy.Lister, error) {
	client, err := c.api.Identity(c.homeRegion)
	if err != nil {
		return nil, err
	}
	return NewCompartments(client, c.limiter, tenancyID), nil
}

// Sources returns one source per configured kind, in configuration order
func (c *Catalog) Sources(kindConfigs []config.KindConfig) ([]pkgsync.Source, error) {
	sources := make([]pkgsync.Source, 0, len(kindConfigs))
	for _, kc := range kindConfigs {
		src, err := c.Source(kc)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// Source returns the source of one configured kind
func (c *Catalog) Source(kc config.KindConfig) (pkgsync.Source, error) {
	kind, err := KindByName(kc.Name)
	if err != nil {
		return nil, err
	}
	b := base{kind: kind, catalog: c}
	p := parentBase{base: b, parents: kc.Parents}

	switch kc.Name {
	case KindAutonomousDatabase:
		return &adbSource{base: b}, nil
	case KindAutonomousDatabaseBackup:
		return &adbBackupSource{parentBase: p}, nil
	case KindDBSystem:
		return &dbSystemSource{base: b}, nil
	case KindDatabaseBackup:
		lookback := kc.GetLookback()
		if lookback == 0 {
			lookback = DefaultBackupLookback
		}
		return &dbBackupSource{parentBase: p, lookback: lookback}, nil
	case KindInstance:
		return &instanceSource{base: b}, nil
	case KindVolume:
		return &volumeSource{base: b}, nil
	case KindVolumeAttachment:
		return &volumeAttachmentSource{parentBase: p}, nil
	case KindVolumeBackup:
		return &volumeBackupSource{parentBase: p}, nil
	case KindLoadBalancer:
		return &loadBalancerSource{base: b}, nil
	case KindFileSystem:
		return &fileSystemSource{base: b}, nil
	case KindFileSystemSnapshot:
		return &snapshotSource{base: b}, nil
	case KindMountTarget:
		return &mountTargetSource{base: b}, nil
	case KindFileSystemExport:
		return &exportSource{base: b}, nil
	case KindDailyCost:
		return &dailyCostSource{base: b}, nil
	}
	return nil, fmt.Errorf("no source for kind %q", kc.Name)
}

// base carries what every source shares and scopes by tenancy and region
type base struct {
	kind    resource.Kind
	catalog *Catalog
}

func (b *base) Kind() resource.Kind {
	return b.kind
}

func (*base) Scopes(_ context.Context, rc *pkgsync.RunContext) ([]resource.Scope, error) {
	return []resource.Scope{rc.RegionScope()}, nil
}

// forEachCompartment calls fn with every compartment of the run, root first
func (*base) forEachCompartment(ctx context.Context, rc *pkgsync.RunContext, fn func(compartmentID string) error) error {
	if rc.Hierarchy == nil {
		return errNoHierarchy
	}
	for _, id := range rc.Hierarchy.Compartments() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(id); err != nil {
			return fmt.Errorf("compartment %s: %w", id, err)
		}
	}
	return nil
}

// availabilityDomains lists the availability domain names of the run's region
func (b *base) availabilityDomains(ctx context.Context, rc *pkgsync.RunContext) ([]string, error) {
	client, err := b.catalog.api.Identity(rc.Region)
	if err != nil {
		return nil, err
	}
	resp, err := getOne(ctx, rc, b.catalog.limiter, "ListAvailabilityDomains",
		func(ctx context.Context) (identity.ListAvailabilityDomainsResponse, error) {
			return client.ListAvailabilityDomains(ctx, identity.ListAvailabilityDomainsRequest{
				CompartmentId: common.String(rc.TenancyID),
			})
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list availability domains: %w", err)
	}

	names := make([]string, 0, len(resp.Items))
	for _, ad := range resp.Items {
		if ad.Name != nil {
			names = append(names, *ad.Name)
		}
	}
	return names, nil
}

// parentBase scopes a kind by each configured parent resource
type parentBase struct {
	base
	parents []string
}

func (p *parentBase) Scopes(_ context.Context, rc *pkgsync.RunContext) ([]resource.Scope, error) {
	scopes := make([]resource.Scope, 0, len(p.parents))
	for _, parent := range p.parents {
		scopes = append(scopes, rc.ParentScope(parent))
	}
	return scopes, nil
}

func sdkTime(t *common.SDKTime) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func optSDKTime(t *common.SDKTime) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// getOne runs a single SDK call through the run's retry policy
func getOne[R any](
	ctx context.Context, rc *pkgsync.RunContext, limiter *rate.Limiter, op string, fetch func(ctx context.Context) (R, error),
) (R, error) {
	return retry.Do(ctx, rc.Policy, func(ctx context.Context) (R, error) {
		return call(ctx, limiter, op, fetch)
	})
}

// lookupFailed reports whether a failed enrichment lookup must fail the scope.
// Cancellation and exhausted throttling do; anything else leaves the enriched
// columns empty.
func lookupFailed(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, retry.ErrThrottleExceeded)
}

// listPages drains one paginated SDK listing through the run's retry policy
func listPages[T, R any](
	ctx context.Context,
	rc *pkgsync.RunContext,
	limiter *rate.Limiter,
	op string,
	fetch func(ctx context.Context, page *string) (R, error),
	unpack func(R) ([]T, *string),
) ([]T, error) {
	return collector.Collect(ctx, rc.Policy, func(ctx context.Context, cursor string) ([]T, string, error) {
		resp, err := call(ctx, limiter, op, func(ctx context.Context) (R, error) {
			return fetch(ctx, pageToken(cursor))
		})
		if err != nil {
			return nil, "", err
		}
		items, next := unpack(resp)
		return items, stringOr(next, ""), nil
	})
}
