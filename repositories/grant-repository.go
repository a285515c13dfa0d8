package repositories

import (
	"context"
	"errors"
	"fmt"

	"zvello-project/microservices/taskgraph-service/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GrantRepository stores permission grants, at most one per (task, user).
type GrantRepository interface {
	Upsert(ctx context.Context, grant models.Grant) error
	// Get returns nil when no grant is stored for the pair.
	Get(ctx context.Context, taskID, userID string) (*models.Grant, error)
	Delete(ctx context.Context, taskID, userID string) error
	DeleteByTask(ctx context.Context, taskID string) error
	FindByUser(ctx context.Context, userID string) ([]models.Grant, error)
}

type MongoGrantRepository struct {
	collection *mongo.Collection
}

func NewMongoGrantRepository(collection *mongo.Collection) *MongoGrantRepository {
	return &MongoGrantRepository{collection: collection}
}

func (r *MongoGrantRepository) Upsert(ctx context.Context, grant models.Grant) error {
	filter := bson.M{"taskId": grant.TaskID, "userId": grant.UserID}
	update := bson.M{"$set": bson.M{"level": grant.Level}}
	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("%w: failed to upsert grant: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *MongoGrantRepository) Get(ctx context.Context, taskID, userID string) (*models.Grant, error) {
	var grant models.Grant
	err := r.collection.FindOne(ctx, bson.M{"taskId": taskID, "userId": userID}).Decode(&grant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to fetch grant: %v", models.ErrStorageUnavailable, err)
	}
	return &grant, nil
}

func (r *MongoGrantRepository) Delete(ctx context.Context, taskID, userID string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"taskId": taskID, "userId": userID}); err != nil {
		return fmt.Errorf("%w: failed to delete grant: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *MongoGrantRepository) DeleteByTask(ctx context.Context, taskID string) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"taskId": taskID}); err != nil {
		return fmt.Errorf("%w: failed to delete grants for task: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *MongoGrantRepository) FindByUser(ctx context.Context, userID string) ([]models.Grant, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to retrieve grants: %v", models.ErrStorageUnavailable, err)
	}
	defer cursor.Close(ctx)

	var grants []models.Grant
	if err := cursor.All(ctx, &grants); err != nil {
		return nil, fmt.Errorf("%w: failed to decode grants: %v", models.ErrStorageUnavailable, err)
	}
	return grants, nil
}
