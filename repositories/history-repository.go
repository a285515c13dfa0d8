package repositories

import (
	"context"
	"fmt"

	"zvello-project/microservices/taskgraph-service/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// HistoryRepository stores per-field change records for tasks.
type HistoryRepository interface {
	Insert(ctx context.Context, entry models.HistoryEntry) error
	FindByTask(ctx context.Context, taskID string) ([]models.HistoryEntry, error)
	DeleteByTask(ctx context.Context, taskID string) error
}

type MongoHistoryRepository struct {
	collection *mongo.Collection
}

func NewMongoHistoryRepository(collection *mongo.Collection) *MongoHistoryRepository {
	return &MongoHistoryRepository{collection: collection}
}

func (r *MongoHistoryRepository) Insert(ctx context.Context, entry models.HistoryEntry) error {
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("%w: failed to insert history entry: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *MongoHistoryRepository) FindByTask(ctx context.Context, taskID string) ([]models.HistoryEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "changedAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"taskId": taskID}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to retrieve history: %v", models.ErrStorageUnavailable, err)
	}
	defer cursor.Close(ctx)

	var entries []models.HistoryEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("%w: failed to decode history: %v", models.ErrStorageUnavailable, err)
	}
	return entries, nil
}

func (r *MongoHistoryRepository) DeleteByTask(ctx context.Context, taskID string) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"taskId": taskID}); err != nil {
		return fmt.Errorf("%w: failed to delete history for task: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}
