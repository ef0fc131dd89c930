package replica

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confwell/confwell/pkg/eval"
	"github.com/confwell/confwell/pkg/stores"
)

// StoreSource builds replica snapshots from the durable store. It implements
// the replicator's source side for the config entity.
type StoreSource struct {
	store stores.Store
}

// NewStoreSource creates a source over the given store.
func NewStoreSource(store stores.Store) *StoreSource {
	return &StoreSource{store: store}
}

// GetIDs lists every config id in the durable store.
func (s *StoreSource) GetIDs(ctx context.Context) ([]string, error) {
	return s.store.ListConfigIDs(ctx)
}

// GetByIDs fetches the given configs together with their variants and parses
// the JSON columns into snapshots. Ids the store no longer knows are simply
// absent from the result.
func (s *StoreSource) GetByIDs(ctx context.Context, ids []string) ([]*Config, error) {
	rows, err := s.store.GetConfigsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch configs: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	configIDs := make([]string, len(rows))
	for i, row := range rows {
		configIDs[i] = row.ID
	}
	variantRows, err := s.store.ListVariantsByConfigIDs(ctx, configIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config variants: %w", err)
	}

	variantsByConfig := make(map[string][]*stores.VariantRow)
	for _, v := range variantRows {
		variantsByConfig[v.ConfigID] = append(variantsByConfig[v.ConfigID], v)
	}

	configs := make([]*Config, 0, len(rows))
	for _, row := range rows {
		c, err := buildConfig(row, variantsByConfig[row.ID])
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", row.ID, err)
		}
		configs = append(configs, c)
	}
	return configs, nil
}

func buildConfig(row *stores.ConfigRow, variantRows []*stores.VariantRow) (*Config, error) {
	value, schema, overrides, err := parseDocument(row.Value, row.Schema, row.Overrides)
	if err != nil {
		return nil, err
	}

	c := &Config{
		ID:            row.ID,
		ProjectID:     row.ProjectID,
		Name:          row.Name,
		Version:       row.Version,
		BaseValue:     value,
		BaseSchema:    schema,
		BaseOverrides: overrides,
		Variants:      make(map[string]*Variant, len(variantRows)),
	}
	for _, vr := range variantRows {
		vValue, vSchema, vOverrides, err := parseDocument(vr.Value, vr.Schema, vr.Overrides)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", vr.ID, err)
		}
		c.Variants[vr.EnvironmentID] = &Variant{
			ID:            vr.ID,
			EnvironmentID: vr.EnvironmentID,
			Value:         vValue,
			Schema:        vSchema,
			Overrides:     vOverrides,
			UseBaseSchema: vr.UseBaseSchema,
		}
	}
	return c, nil
}

func parseDocument(value string, schema *string, overrides string) (any, json.RawMessage, []eval.Override, error) {
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid value document: %w", err)
	}

	var s json.RawMessage
	if schema != nil {
		s = json.RawMessage(*schema)
	}

	var o []eval.Override
	if overrides != "" {
		if err := json.Unmarshal([]byte(overrides), &o); err != nil {
			return nil, nil, nil, fmt.Errorf("invalid overrides document: %w", err)
		}
	}
	return v, s, o, nil
}
