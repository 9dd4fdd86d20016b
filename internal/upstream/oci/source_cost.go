package oci

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/usageapi"
	"github.com/shopspring/decimal"

	"github.com/stacklok/inventory-mirror/internal/resource"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
)

const unknownService = "Unknown"

// dailyCostSource mirrors the cost of one usage day per service. Usage is
// tenancy-wide, so only the home region has a scope.
type dailyCostSource struct {
	base
}

func (s *dailyCostSource) Scopes(_ context.Context, rc *pkgsync.RunContext) ([]resource.Scope, error) {
	if rc.Region != s.catalog.homeRegion {
		return nil, nil
	}
	return []resource.Scope{rc.ParentScope(s.usageDate(rc))}, nil
}

// usageDate is the pinned date, or the day before the run started in UTC
func (s *dailyCostSource) usageDate(rc *pkgsync.RunContext) string {
	if s.catalog.usageDate != "" {
		return s.catalog.usageDate
	}
	return rc.StartedAt.UTC().AddDate(0, 0, -1).Format(UsageDateLayout)
}

type serviceCost struct {
	amount   decimal.Decimal
	currency string
}

func (s *dailyCostSource) Fetch(ctx context.Context, rc *pkgsync.RunContext, scope resource.Scope, emit pkgsync.EmitFunc) error {
	day, err := time.Parse(UsageDateLayout, scope.ParentID)
	if err != nil {
		return fmt.Errorf("invalid usage date %q: %w", scope.ParentID, err)
	}

	client, err := s.catalog.api.Usage(s.catalog.homeRegion)
	if err != nil {
		return err
	}

	items, err := listPages(ctx, rc, s.catalog.limiter, "RequestSummarizedUsages",
		func(ctx context.Context, page *string) (usageapi.RequestSummarizedUsagesResponse, error) {
			return client.RequestSummarizedUsages(ctx, usageapi.RequestSummarizedUsagesRequest{
				RequestSummarizedUsagesDetails: usageapi.RequestSummarizedUsagesDetails{
					TenantId:         common.String(rc.TenancyID),
					TimeUsageStarted: &common.SDKTime{Time: day},
					TimeUsageEnded:   &common.SDKTime{Time: day.AddDate(0, 0, 1)},
					Granularity:      usageapi.RequestSummarizedUsagesDetailsGranularityDaily,
					QueryType:        usageapi.RequestSummarizedUsagesDetailsQueryTypeCost,
					GroupBy:          []string{"service"},
				},
				Page: page,
			})
		},
		func(r usageapi.RequestSummarizedUsagesResponse) ([]usageapi.UsageSummary, *string) {
			return r.Items, r.OpcNextPage
		})
	if err != nil {
		return err
	}

	costs := sumByService(items)
	services := make([]string, 0, len(costs))
	for name := range costs {
		services = append(services, name)
	}
	sort.Strings(services)

	for _, name := range services {
		cost := costs[name]
		var currency any
		if cost.currency != "" {
			currency = cost.currency
		}
		rec := resource.Record{
			ID:            name,
			CompartmentID: rc.TenancyID,
			DisplayName:   name,
			Attributes: resource.Attributes{
				"usage_date":      scope.ParentID,
				"service":         name,
				"computed_amount": cost.amount,
				"currency":        currency,
			},
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// sumByService adds up the amounts of rows sharing a service name
func sumByService(items []usageapi.UsageSummary) map[string]serviceCost {
	costs := make(map[string]serviceCost)
	for _, item := range items {
		name := strings.TrimSpace(resource.Deref(item.Service))
		if name == "" {
			name = unknownService
		}

		cost := costs[name]
		if item.ComputedAmount != nil {
			cost.amount = cost.amount.Add(decimal.NewFromFloat32(*item.ComputedAmount))
		}
		if cost.currency == "" {
			cost.currency = resource.Deref(item.Currency)
		}
		costs[name] = cost
	}
	return costs
}
