package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"taskboard/domain"
)

// anonymousPartition holds records that carry no owner.
const anonymousPartition = "_"

// TableStore is a document store on Azure Table Storage. Each collection maps
// to a table; records are partitioned by their userId.
type TableStore struct {
	svc    *aztables.ServiceClient
	tables map[string]string

	mu         sync.Mutex
	clients    map[string]*aztables.Client
	partitions map[string]string
}

// NewTableStore creates a TableStore from a connection string. tables maps
// collection names to table names; unmapped collections use their own name.
func NewTableStore(connStr string, tables map[string]string) (*TableStore, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &TableStore{
		svc:        svc,
		tables:     tables,
		clients:    make(map[string]*aztables.Client),
		partitions: make(map[string]string),
	}, nil
}

func (s *TableStore) client(collection string) *aztables.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[collection]; ok {
		return c
	}
	name := collection
	if mapped, ok := s.tables[collection]; ok && mapped != "" {
		name = mapped
	}
	c := s.svc.NewClient(name)
	s.clients[collection] = c
	return c
}

func (s *TableStore) rememberPartition(collection, id, pk string) {
	s.mu.Lock()
	s.partitions[collection+"/"+id] = pk
	s.mu.Unlock()
}

func (s *TableStore) forgetPartition(collection, id string) {
	s.mu.Lock()
	delete(s.partitions, collection+"/"+id)
	s.mu.Unlock()
}

// partitionOf finds the partition of an entity, querying by RowKey when it
// was not seen by this process.
func (s *TableStore) partitionOf(ctx context.Context, collection, id string) (string, error) {
	s.mu.Lock()
	pk, ok := s.partitions[collection+"/"+id]
	s.mu.Unlock()
	if ok {
		return pk, nil
	}

	filter := "RowKey eq " + quoteOData(id)
	sel := "PartitionKey,RowKey"
	top := int32(1)
	pager := s.client(collection).NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel, Top: &top})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return "", err
		}
		for _, raw := range resp.Entities {
			var ent aztables.Entity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return "", err
			}
			s.rememberPartition(collection, id, ent.PartitionKey)
			return ent.PartitionKey, nil
		}
	}
	return "", fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
}

// ErrDocumentNotFound is returned when an update targets a missing document.
var ErrDocumentNotFound = errors.New("document not found")

// Insert adds record under a new RowKey and returns it.
func (s *TableStore) Insert(ctx context.Context, collection string, record domain.Record) (string, error) {
	id := uuid.NewString()
	pk := partitionFor(record)
	payload, err := encodeEntity(pk, id, record)
	if err != nil {
		return "", err
	}
	if _, err := s.client(collection).AddEntity(ctx, payload, nil); err != nil {
		return "", err
	}
	s.rememberPartition(collection, id, pk)
	return id, nil
}

// Update merges partial into an existing entity. The owner of a document is
// fixed at insert time; a userId in partial does not move it.
func (s *TableStore) Update(ctx context.Context, collection, id string, partial domain.Record) error {
	pk, err := s.partitionOf(ctx, collection, id)
	if err != nil {
		return err
	}
	payload, err := encodeEntity(pk, id, partial)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.client(collection).UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isStatus(err, 404) {
		s.forgetPartition(collection, id)
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}
	return err
}

// Delete removes an entity. Deleting a missing entity succeeds.
func (s *TableStore) Delete(ctx context.Context, collection, id string) error {
	pk, err := s.partitionOf(ctx, collection, id)
	if errors.Is(err, ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.client(collection).DeleteEntity(ctx, pk, id, &aztables.DeleteEntityOptions{IfMatch: &et})
	s.forgetPartition(collection, id)
	if err != nil && !isStatus(err, 404) {
		return err
	}
	return nil
}

// QueryByField lists all documents whose field equals value. Queries on
// userId are served from the partition.
func (s *TableStore) QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error) {
	filter, err := fieldFilter(field, value)
	if err != nil {
		return nil, err
	}
	pager := s.client(collection).NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	docs := []domain.Document{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			doc, pk, err := decodeEntity(raw)
			if err != nil {
				return nil, err
			}
			s.rememberPartition(collection, doc.ID, pk)
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func partitionFor(record domain.Record) string {
	if uid := record.String(domain.FieldUserID); uid != "" {
		return uid
	}
	return anonymousPartition
}

// encodeEntity builds the JSON entity for a record. Field names become
// PascalCase properties.
func encodeEntity(pk, rk string, record domain.Record) ([]byte, error) {
	ent := make(map[string]any, len(record)+2)
	for k, v := range record {
		if k == "" {
			continue
		}
		if t, ok := v.(time.Time); ok {
			ent[propertyName(k)] = t.UTC().Format(time.RFC3339Nano)
			continue
		}
		ent[propertyName(k)] = v
	}
	ent["PartitionKey"] = pk
	ent["RowKey"] = rk
	return json.Marshal(ent)
}

// decodeEntity maps a table entity back to a document, dropping system and
// OData annotation properties.
func decodeEntity(raw []byte) (domain.Document, string, error) {
	var ent map[string]any
	if err := json.Unmarshal(raw, &ent); err != nil {
		return domain.Document{}, "", err
	}
	pk, _ := ent["PartitionKey"].(string)
	rk, _ := ent["RowKey"].(string)
	if rk == "" {
		return domain.Document{}, "", errors.New("entity has no RowKey")
	}
	rec := make(domain.Record, len(ent))
	for k, v := range ent {
		switch {
		case k == "PartitionKey", k == "RowKey", k == "Timestamp":
			continue
		case strings.HasPrefix(k, "odata."), strings.Contains(k, "@odata."):
			continue
		}
		rec[fieldName(k)] = v
	}
	if _, ok := rec[domain.FieldUserID]; !ok && pk != anonymousPartition {
		rec[domain.FieldUserID] = pk
	}
	return domain.Document{ID: rk, Record: rec}, pk, nil
}

func fieldFilter(field string, value any) (string, error) {
	if field == "" {
		return "", errors.New("empty field name")
	}
	if field == domain.FieldUserID {
		return "PartitionKey eq " + quoteOData(fmt.Sprint(value)), nil
	}
	prop := propertyName(field)
	for _, r := range prop {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return "", fmt.Errorf("invalid field name %q", field)
		}
	}
	switch v := value.(type) {
	case bool:
		return fmt.Sprintf("%s eq %t", prop, v), nil
	case int, int32, int64:
		return fmt.Sprintf("%s eq %d", prop, v), nil
	default:
		return prop + " eq " + quoteOData(fmt.Sprint(v)), nil
	}
}

func quoteOData(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func propertyName(field string) string {
	r, size := utf8.DecodeRuneInString(field)
	return string(unicode.ToUpper(r)) + field[size:]
}

func fieldName(prop string) string {
	r, size := utf8.DecodeRuneInString(prop)
	return string(unicode.ToLower(r)) + prop[size:]
}

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}
