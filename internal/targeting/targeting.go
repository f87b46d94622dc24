// Package targeting translates declarative match constraints into the
// filter expression consumed by the index adapter. Pure; no I/O.
package targeting

import (
	"github.com/sponsorlabs/placemint/internal/filter"
	"github.com/sponsorlabs/placemint/internal/model"
)

// Engine builds filter expressions from constraints.
type Engine struct{}

// NewEngine returns a targeting engine.
func NewEngine() *Engine { return &Engine{} }

// BuildFilter maps constraints onto must/must_not predicates. Placement is
// annotate-only and never filters; the policy booleans (age_restricted_ok,
// sensitive_ok) are enforced post-retrieval so their denials stay auditable.
// An empty-string locale entry is added alongside the requested locale:
// the catalog's convention for creatives eligible in any locale.
func (e *Engine) BuildFilter(c model.Constraints, _ model.Placement) filter.Expression {
	var expr filter.Expression

	if len(c.Topics) > 0 {
		expr.Must = append(expr.Must, filter.AnyOf("topics", c.Topics...))
	}
	if c.Locale != "" {
		expr.Must = append(expr.Must, filter.AnyOf("locale", c.Locale, ""))
	}
	if len(c.Verticals) > 0 {
		expr.Must = append(expr.Must, filter.AnyOf("verticals", c.Verticals...))
	}
	if len(c.AudienceSegments) > 0 {
		expr.Must = append(expr.Must, filter.AnyOf("audience_segments", c.AudienceSegments...))
	}
	if len(c.Keywords) > 0 {
		expr.Must = append(expr.Must, filter.AnyOf("keywords", c.Keywords...))
	}

	if len(c.ExcludeAdvertiserIDs) > 0 {
		expr.MustNot = append(expr.MustNot, filter.NotIn("advertiser_id", c.ExcludeAdvertiserIDs...))
	}
	if len(c.ExcludeCampaignIDs) > 0 {
		expr.MustNot = append(expr.MustNot, filter.NotIn("campaign_id", c.ExcludeCampaignIDs...))
	}
	if len(c.ExcludeCreativeIDs) > 0 {
		expr.MustNot = append(expr.MustNot, filter.NotIn("creative_id", c.ExcludeCreativeIDs...))
	}

	return expr
}
