// Package record provides the data actions over tenant records kept in the store.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/flowrule/pkg/condition"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/dukex/flowrule/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

// Operations.
const (
	OpCreate = "create_record"
	OpUpdate = "update_record"
	OpDelete = "delete_record"
	OpQuery  = "query_records"
)

var (
	ErrTableRequired = errors.New("record table is required")
	ErrIDRequired    = errors.New("record id is required")
)

// Record is one row of a tenant data table.
type Record struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Table     string         `json:"table"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Fields returns the record data with its id, the shape returned to callers.
func (r *Record) Fields() map[string]any {
	out := make(map[string]any, len(r.Data)+1)
	for key, value := range r.Data {
		out[key] = value
	}

	out["id"] = r.ID

	return out
}

// Table shares the repository, lock and clock between the four record actions.
type Table struct {
	records *persistence.Repository[Record]
	locks   *lock.KeyedMutex
	clock   clockwork.Clock
}

func NewTable(store persistence.Store, clock clockwork.Clock) *Table {
	return &Table{
		records: persistence.NewRepository[Record](store, persistence.KindRecord),
		locks:   lock.New(),
		clock:   clock,
	}
}

// Factories returns the create, update, delete and query factories.
func (t *Table) Factories() []protocol.ActionFactory {
	return []protocol.ActionFactory{
		&ActionFactory{table: t, op: OpCreate},
		&ActionFactory{table: t, op: OpUpdate},
		&ActionFactory{table: t, op: OpDelete},
		&ActionFactory{table: t, op: OpQuery},
	}
}

type ActionFactory struct {
	table *Table
	op    string
}

func (f *ActionFactory) ID() string {
	return f.op
}

func (f *ActionFactory) Definition() models.ActionDefinition {
	return definitions[f.op]
}

func (f *ActionFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &Action{table: f.table, op: f.op}

	err := models.Decode(input, &action.Input)
	if err != nil {
		return nil, err
	}

	if action.Table == "" {
		return nil, ErrTableRequired
	}

	if (f.op == OpUpdate || f.op == OpDelete) && action.ID == "" {
		return nil, ErrIDRequired
	}

	return action, nil
}

// Sort orders query results by Field, ascending unless Order is "desc".
type Sort struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

type Input struct {
	Table   string         `json:"table"`
	ID      string         `json:"id"`
	Data    map[string]any `json:"data"`
	Filters map[string]any `json:"filters"`
	Sort    *Sort          `json:"sort"`
	Limit   int            `json:"limit"`
}

type Action struct {
	Input

	table *Table
	op    string
}

func (a *Action) Execute(ctx context.Context, actx models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	switch a.op {
	case OpCreate:
		logger.InfoContext(ctx, "Creating record in table: "+a.Table)

		return a.create(ctx, actx.TenantID)
	case OpUpdate:
		logger.InfoContext(ctx, fmt.Sprintf("Updating record %s in table: %s", a.ID, a.Table))

		return a.update(ctx, actx.TenantID)
	case OpDelete:
		logger.InfoContext(ctx, fmt.Sprintf("Deleting record %s from table: %s", a.ID, a.Table))

		return a.delete(ctx, actx.TenantID)
	default:
		logger.InfoContext(ctx, "Querying records from table: "+a.Table)

		return a.query(ctx, actx.TenantID)
	}
}

func (a *Action) create(ctx context.Context, tenantID string) (map[string]any, error) {
	now := a.table.clock.Now().UTC()

	record := &Record{
		ID:        models.NewID(models.PrefixRecord),
		TenantID:  tenantID,
		Table:     a.Table,
		Data:      a.Data,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := a.table.records.Save(ctx, tenantID, record.ID, record)
	if err != nil {
		return nil, err
	}

	return map[string]any{"id": record.ID, "record": record.Fields()}, nil
}

func (a *Action) load(ctx context.Context, tenantID string) (*Record, error) {
	record, err := a.table.records.Get(ctx, tenantID, a.ID)
	if err != nil {
		return nil, err
	}

	if record.Table != a.Table {
		return nil, persistence.NewEntityError("Get", persistence.KindRecord, tenantID, a.ID, persistence.ErrNotFound)
	}

	return record, nil
}

func (a *Action) update(ctx context.Context, tenantID string) (map[string]any, error) {
	unlock := a.table.locks.Lock(lock.Key(tenantID, a.ID))
	defer unlock()

	record, err := a.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if record.Data == nil {
		record.Data = map[string]any{}
	}

	for key, value := range a.Data {
		record.Data[key] = value
	}

	record.UpdatedAt = a.table.clock.Now().UTC()

	err = a.table.records.Save(ctx, tenantID, record.ID, record)
	if err != nil {
		return nil, err
	}

	return map[string]any{"record": record.Fields()}, nil
}

func (a *Action) delete(ctx context.Context, tenantID string) (map[string]any, error) {
	unlock := a.table.locks.Lock(lock.Key(tenantID, a.ID))
	defer unlock()

	_, err := a.load(ctx, tenantID)
	if persistence.IsNotFound(err) {
		return map[string]any{"deleted": false}, nil
	}

	if err != nil {
		return nil, err
	}

	err = a.table.records.Delete(ctx, tenantID, a.ID)
	if err != nil {
		return nil, err
	}

	return map[string]any{"deleted": true}, nil
}

func (a *Action) query(ctx context.Context, tenantID string) (map[string]any, error) {
	all, err := a.table.records.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var matched []*Record

	for _, record := range all {
		if record.Table == a.Table && a.matches(record) {
			matched = append(matched, record)
		}
	}

	if a.Sort != nil && a.Sort.Field != "" {
		desc := a.Sort.Order == "desc"

		sort.SliceStable(matched, func(i, j int) bool {
			left, _ := condition.Resolve(matched[i].Fields(), a.Sort.Field)
			right, _ := condition.Resolve(matched[j].Fields(), a.Sort.Field)

			cmp, ok := condition.Compare(left, right)
			if !ok {
				return false
			}

			if desc {
				return cmp > 0
			}

			return cmp < 0
		})
	}

	total := len(matched)

	if a.Limit > 0 && len(matched) > a.Limit {
		matched = matched[:a.Limit]
	}

	records := make([]any, 0, len(matched))
	for _, record := range matched {
		records = append(records, record.Fields())
	}

	return map[string]any{"records": records, "total": total}, nil
}

// matches applies Filters as equality conditions on the record fields.
func (a *Action) matches(record *Record) bool {
	fields := record.Fields()

	for field, value := range a.Filters {
		if !condition.Match(models.Condition{Field: field, Operator: models.OpEquals, Value: value}, fields) {
			return false
		}
	}

	return true
}
