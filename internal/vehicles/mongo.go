package vehicles

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSource reads vehicles from the back-office catalog collection.
type MongoSource struct {
	collection *mongo.Collection
}

// ConnectMongo dials the back-office database and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("vehicles: mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("vehicles: mongo ping: %w", err)
	}
	return client, nil
}

// NewMongoSource wraps a catalog collection.
func NewMongoSource(client *mongo.Client, database, collection string) *MongoSource {
	return &MongoSource{collection: client.Database(database).Collection(collection)}
}

// VehicleByID fetches one vehicle document. Catalog ids are Mongo ObjectIDs
// in their hex form.
func (s *MongoSource) VehicleByID(ctx context.Context, id string) (*Vehicle, error) {
	if s.collection == nil {
		return nil, fmt.Errorf("vehicles: mongo collection is nil")
	}
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("vehicles: invalid vehicle id %q: %w", id, err)
	}

	var doc struct {
		ID                 primitive.ObjectID `bson:"_id"`
		Name               string             `bson:"name"`
		RegistrationNumber string             `bson:"registrationNumber"`
		Tracking           Tracking           `bson:"tracking"`
	}
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("vehicles: find vehicle %s: %w", id, err)
	}
	return &Vehicle{
		ID:                 doc.ID.Hex(),
		Name:               doc.Name,
		RegistrationNumber: doc.RegistrationNumber,
		Tracking:           doc.Tracking,
	}, nil
}
