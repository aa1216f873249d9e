package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

// CreateTables creates the named tables. Existing tables and empty names are
// skipped.
func CreateTables(ctx context.Context, connStr string, names ...string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return err
	}
	return ensureAll(ctx, "table", string(aztables.TableAlreadyExists), names, func(ctx context.Context, name string) error {
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		return err
	})
}

// CreateQueues creates the named queues. Existing queues and empty names are
// skipped.
func CreateQueues(ctx context.Context, connStr string, names ...string) error {
	return ensureAll(ctx, "queue", queueAlreadyExists, names, func(ctx context.Context, name string) error {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		return err
	})
}

// ensureAll calls create for every non-empty name, treating existsCode as
// success.
func ensureAll(ctx context.Context, kind, existsCode string, names []string, create func(context.Context, string) error) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := create(ctx, name); err != nil && !alreadyExists(err, existsCode) {
			return err
		}
		log.WithField(kind, name).Info(kind + " ready")
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
