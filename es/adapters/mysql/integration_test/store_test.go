// Package integration_test contains integration tests for the MySQL
// adapter. These tests require a running MySQL/MariaDB instance.
//
// Start MySQL: docker run -d -p 3306:3306 -e MYSQL_ROOT_PASSWORD=password -e MYSQL_DATABASE=event_store_test mysql:8
// Run with: go test -tags=integration ./es/adapters/mysql/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/witzbould/event-store/es"
	"github.com/witzbould/event-store/es/adapters/mysql"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	host := os.Getenv("MYSQL_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("MYSQL_PORT")
	if port == "" {
		port = "3306"
	}
	user := os.Getenv("MYSQL_USER")
	if user == "" {
		user = "root"
	}
	password := os.Getenv("MYSQL_PASSWORD")
	if password == "" {
		password = "password"
	}
	dbname := os.Getenv("MYSQL_DATABASE")
	if dbname == "" {
		dbname = "event_store_test"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", user, password, host, port, dbname)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("mysql not available: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *mysql.Store {
	t.Helper()
	db := getTestDB(t)
	store := mysql.NewStore(db, mysql.DefaultStoreConfig())

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS projections`); err != nil {
		t.Fatalf("drop projections: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS event_streams`); err != nil {
		t.Fatalf("drop event_streams: %v", err)
	}
	if err := store.CreateEventStreamsTable(ctx); err != nil {
		t.Fatalf("CreateEventStreamsTable() error = %v", err)
	}
	if err := store.CreateProjectionsTable(ctx); err != nil {
		t.Fatalf("CreateProjectionsTable() error = %v", err)
	}
	return store
}

func TestStore_AppendAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AddStreamToStreamsTable(ctx, "orders"); err != nil {
		t.Fatalf("AddStreamToStreamsTable() error = %v", err)
	}
	if err := store.CreateSchema(ctx, "orders"); err != nil {
		t.Fatalf("CreateSchema() error = %v", err)
	}
	t.Cleanup(func() { store.DropSchema(ctx, "orders") })

	appended, err := store.AppendTo(ctx, "orders", []es.Event{
		es.NewEvent("OrderPlaced", []byte(`{"total":10}`)),
		es.NewEvent("OrderShipped", []byte(`{}`)),
	})
	if err != nil {
		t.Fatalf("AppendTo() error = %v", err)
	}
	if len(appended) != 2 || appended[0].No != 1 || appended[1].No != 2 {
		t.Fatalf("AppendTo() = %+v, want sequential No starting at 1", appended)
	}

	it, err := store.Load(ctx, "orders", 1, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer it.Close()

	var names []string
	for {
		event, ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			break
		}
		names = append(names, event.Name)
	}
	if len(names) != 2 || names[0] != "OrderPlaced" || names[1] != "OrderShipped" {
		t.Errorf("loaded events = %v, want [OrderPlaced OrderShipped]", names)
	}
}

func TestStore_AppendToEnforcesAggregateVersionUniqueness(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AddStreamToStreamsTable(ctx, "orders"); err != nil {
		t.Fatalf("AddStreamToStreamsTable() error = %v", err)
	}
	if err := store.CreateSchema(ctx, "orders"); err != nil {
		t.Fatalf("CreateSchema() error = %v", err)
	}
	t.Cleanup(func() { store.DropSchema(ctx, "orders") })

	first := es.NewEvent("OrderPlaced", nil).WithAggregateType("Order").WithAggregateID("order-1").WithVersion(1)
	if _, err := store.AppendTo(ctx, "orders", []es.Event{first}); err != nil {
		t.Fatalf("first AppendTo() error = %v", err)
	}

	duplicate := es.NewEvent("OrderPlacedAgain", nil).WithAggregateType("Order").WithAggregateID("order-1").WithVersion(1)
	if _, err := store.AppendTo(ctx, "orders", []es.Event{duplicate}); !errors.Is(err, es.ErrConcurrency) {
		t.Errorf("duplicate AppendTo() error = %v, want ErrConcurrency", err)
	}
}

func TestStore_ProjectionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	record := es.ProjectionRecord{
		State:     []byte(`{"count":1}`),
		Positions: map[string]int64{"orders": 3},
		Status:    es.StatusRunning,
	}
	if err := store.SaveProjection(ctx, "counter", record); err != nil {
		t.Fatalf("SaveProjection() error = %v", err)
	}

	loaded, err := store.LoadProjection(ctx, "counter")
	if err != nil || loaded == nil {
		t.Fatalf("LoadProjection() = (%v, %v), want a record", loaded, err)
	}
	if string(loaded.State) != `{"count":1}` || loaded.Positions["orders"] != 3 || loaded.Status != es.StatusRunning {
		t.Errorf("LoadProjection() = %+v, want round trip of %+v", loaded, record)
	}

	if err := store.DeleteProjection(ctx, "counter"); err != nil {
		t.Fatalf("DeleteProjection() error = %v", err)
	}
	loaded, err = store.LoadProjection(ctx, "counter")
	if err != nil {
		t.Fatalf("LoadProjection() after delete error = %v", err)
	}
	if loaded != nil {
		t.Errorf("LoadProjection() after delete = %+v, want nil", loaded)
	}
}
