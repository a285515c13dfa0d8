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

// TaskRepository is the task-record store. Writes key on the task id so a
// retried operation lands on the same document.
type TaskRepository interface {
	Insert(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, taskID string) (*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, taskID string) error
	FindByCreator(ctx context.Context, userID string) ([]models.Task, error)
	FindByIDs(ctx context.Context, taskIDs []string) ([]models.Task, error)
}

type MongoTaskRepository struct {
	collection *mongo.Collection
}

func NewMongoTaskRepository(collection *mongo.Collection) *MongoTaskRepository {
	return &MongoTaskRepository{collection: collection}
}

// Insert upserts on _id so a retry after a transient failure is idempotent.
func (r *MongoTaskRepository) Insert(ctx context.Context, task *models.Task) error {
	filter := bson.M{"_id": task.ID}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, filter, task, opts); err != nil {
		return fmt.Errorf("%w: failed to insert task: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *MongoTaskRepository) GetByID(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	err := r.collection.FindOne(ctx, bson.M{"_id": taskID}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", models.ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("%w: failed to fetch task: %v", models.ErrStorageUnavailable, err)
	}
	return &task, nil
}

func (r *MongoTaskRepository) Update(ctx context.Context, task *models.Task) error {
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": task.ID}, task)
	if err != nil {
		return fmt.Errorf("%w: failed to update task: %v", models.ErrStorageUnavailable, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", models.ErrTaskNotFound, task.ID)
	}
	return nil
}

func (r *MongoTaskRepository) Delete(ctx context.Context, taskID string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": taskID}); err != nil {
		return fmt.Errorf("%w: failed to delete task: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *MongoTaskRepository) FindByCreator(ctx context.Context, userID string) ([]models.Task, error) {
	return r.find(ctx, bson.M{"creatorId": userID})
}

func (r *MongoTaskRepository) FindByIDs(ctx context.Context, taskIDs []string) ([]models.Task, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": taskIDs}})
}

func (r *MongoTaskRepository) find(ctx context.Context, filter bson.M) ([]models.Task, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to retrieve tasks: %v", models.ErrStorageUnavailable, err)
	}
	defer cursor.Close(ctx)

	var tasks []models.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("%w: failed to decode tasks: %v", models.ErrStorageUnavailable, err)
	}
	return tasks, nil
}
