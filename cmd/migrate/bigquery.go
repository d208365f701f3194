package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// bigQueryDriver applies migrations as BigQuery jobs. BigQuery DDL is not
// transactional, so the migration and its record are two separate jobs.
type bigQueryDriver struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

func newBigQueryDriver(ctx context.Context, projectID, datasetID string) (*bigQueryDriver, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &bigQueryDriver{client: client, projectID: projectID, datasetID: datasetID}, nil
}

func (d *bigQueryDriver) Close() error {
	return d.client.Close()
}

func (d *bigQueryDriver) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", d.projectID, d.datasetID)
}

func (d *bigQueryDriver) EnsureSchemaMigrations(ctx context.Context) error {
	return d.runQuery(ctx, d.client.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, d.table())))
}

func (d *bigQueryDriver) Applied(ctx context.Context) ([]AppliedMigration, error) {
	q := d.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, d.table()))
	it, err := q.Read(ctx)
	if err != nil {
		// If table doesn't exist yet, return empty list
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (d *bigQueryDriver) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := d.runQuery(ctx, d.client.Query(m.SQL)); err != nil {
		return fmt.Errorf("executing %s: %w", m.Filename, err)
	}

	q := d.client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, d.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := d.runQuery(ctx, q); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}

func (d *bigQueryDriver) runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
