// Package catalog holds the enumeration of supported ActionTypes and resolves each one
// to the FactQuery, fact source and predicate rule it uses.
package catalog

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gurufinglobal/attestor/attestor/config"
	"github.com/gurufinglobal/attestor/attestor/predicate"
	"github.com/gurufinglobal/attestor/attestor/source"
	"github.com/gurufinglobal/attestor/attestor/types"
)

const (
	TemperatureOverThreshold     = "temperature-over-threshold"
	SustainableTransportDistance = "sustainable-transport-distance"
)

// resolver turns an action's configuration into its FactQuery.
type resolver func(name string, cfg *config.Config, action config.ActionConfig) (types.FactQuery, error)

// builtins is the enumeration. New action types are added here, never changed in place.
var builtins = map[string]resolver{
	TemperatureOverThreshold:     weatherField("main.temp"),
	SustainableTransportDistance: staticOnly,
}

type Definition struct {
	Name       string
	ActionType types.ActionType
	Rule       predicate.Rule
	Source     source.Source
	Query      types.FactQuery
}

type Catalog struct {
	byType map[types.ActionType]Definition
	byName map[string]types.ActionType
}

type valueSetter interface {
	Set(sourceID string, value float64)
}

// New builds the catalog from the [actions] tables. Actions that are not built in, or whose
// declared unit differs from the unit their query produces, are configuration errors.
func New(cfg *config.Config, sources *source.Registry) (*Catalog, error) {
	c := &Catalog{
		byType: make(map[types.ActionType]Definition, len(cfg.Actions)),
		byName: make(map[string]types.ActionType, len(cfg.Actions)),
	}

	for name, action := range cfg.Actions {
		resolve, ok := builtins[name]
		if !ok {
			return nil, errorsmod.Wrapf(types.ErrConfiguration, "unknown action %q", name)
		}

		comparison, err := predicate.ParseComparison(action.Comparison)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "action %s", name)
		}

		query, err := resolve(name, cfg, action)
		if err != nil {
			return nil, err
		}
		if action.Unit != "" && query.Unit != "" && !strings.EqualFold(action.Unit, query.Unit) {
			return nil, errorsmod.Wrapf(types.ErrConfiguration,
				"action %s threshold unit %q does not match source unit %q", name, action.Unit, query.Unit)
		}

		src, ok := sources.Get(action.Source)
		if !ok {
			return nil, errorsmod.Wrapf(types.ErrConfiguration, "action %s: source %q is not registered", name, action.Source)
		}
		if action.Source == config.SourceStatic {
			setter, ok := src.(valueSetter)
			if !ok {
				return nil, errorsmod.Wrapf(types.ErrConfiguration, "source %q cannot hold static values", action.Source)
			}
			setter.Set(query.SourceID, action.StaticValue)
		}

		def := Definition{
			Name:       name,
			ActionType: types.NewActionType(name),
			Rule: predicate.Rule{
				Threshold:  action.Threshold,
				Comparison: comparison,
				Unit:       action.Unit,
			},
			Source: src,
			Query:  query,
		}
		c.byType[def.ActionType] = def
		c.byName[name] = def.ActionType
	}

	return c, nil
}

// Lookup accepts either the action name or its 0x-prefixed ActionType.
func (c *Catalog) Lookup(nameOrID string) (Definition, bool) {
	key := strings.TrimSpace(nameOrID)
	if at, ok := c.byName[key]; ok {
		return c.byType[at], true
	}
	if b, err := hexutil.Decode(key); err == nil && len(b) == common.HashLength {
		return c.Get(types.ActionType(common.BytesToHash(b)))
	}
	return Definition{}, false
}

// Get resolves an ActionType that is already decoded.
func (c *Catalog) Get(at types.ActionType) (Definition, bool) {
	def, ok := c.byType[at]
	return def, ok
}

// Definitions returns every supported action sorted by name.
func (c *Catalog) Definitions() []Definition {
	defs := make([]Definition, 0, len(c.byType))
	for _, def := range c.byType {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (c *Catalog) Rules() map[types.ActionType]predicate.Rule {
	rules := make(map[types.ActionType]predicate.Rule, len(c.byType))
	for at, def := range c.byType {
		rules[at] = def.Rule
	}
	return rules
}

// Builtins lists the action names the binary knows about.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func weatherField(path string) resolver {
	return func(name string, cfg *config.Config, action config.ActionConfig) (types.FactQuery, error) {
		if action.Source == config.SourceStatic {
			return staticQuery(name, action.Unit), nil
		}

		base, err := url.Parse(cfg.Source.BaseURL)
		if err != nil {
			return types.FactQuery{}, errorsmod.Wrapf(types.ErrConfiguration, "source.base_url: %v", err)
		}
		q := base.Query()
		q.Set("q", cfg.Source.City)
		q.Set("units", cfg.Source.Units)
		q.Set("appid", cfg.Source.APIKey)
		base.RawQuery = q.Encode()

		unit, err := weatherUnit(cfg.Source.Units)
		if err != nil {
			return types.FactQuery{}, err
		}

		return types.FactQuery{
			SourceID:       fmt.Sprintf("%s/%s", config.SourceWeather, cfg.Source.City),
			URL:            base.String(),
			Method:         "GET",
			ResponseFormat: "json",
			JQFilter:       "." + path,
			Path:           path,
			Unit:           unit,
		}, nil
	}
}

func staticOnly(name string, _ *config.Config, action config.ActionConfig) (types.FactQuery, error) {
	if action.Source != config.SourceStatic {
		return types.FactQuery{}, errorsmod.Wrapf(types.ErrConfiguration,
			"action %s only supports the %q source", name, config.SourceStatic)
	}
	return staticQuery(name, action.Unit), nil
}

func staticQuery(name, unit string) types.FactQuery {
	return types.FactQuery{
		SourceID:       config.SourceStatic + "/" + name,
		URL:            "static://" + name,
		Method:         "GET",
		ResponseFormat: "json",
		JQFilter:       ".value",
		Path:           "value",
		Unit:           unit,
	}
}

func weatherUnit(units string) (string, error) {
	switch units {
	case "metric":
		return "celsius", nil
	case "imperial":
		return "fahrenheit", nil
	case "standard", "":
		return "kelvin", nil
	default:
		return "", errorsmod.Wrapf(types.ErrConfiguration, "source.units is invalid: %q", units)
	}
}
