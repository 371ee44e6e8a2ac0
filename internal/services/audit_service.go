package services

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"medassist/internal/database"
)

// AuditService writes one document per analysis request so clinical
// output can be traced back to the path that produced it. The store is
// optional; every method is a no-op when MongoDB is not configured.
type AuditService struct {
	mongoDB *database.MongoDB
}

func NewAuditService(mongoDB *database.MongoDB) *AuditService {
	return &AuditService{mongoDB: mongoDB}
}

// AnalysisAuditEvent records one trip through the delegation chain.
type AnalysisAuditEvent struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RequestID  string             `bson:"requestId" json:"requestId"`
	PatientID  string             `bson:"patientId,omitempty" json:"patientId,omitempty"`
	Mode       string             `bson:"mode" json:"mode"` // doctor, patient
	Path       string             `bson:"path" json:"path"` // sidecar, local_model, mock
	InputChars int                `bson:"inputChars" json:"inputChars"`
	ScanBytes  int                `bson:"scanBytes,omitempty" json:"scanBytes,omitempty"`
	Findings   int                `bson:"findings" json:"findings"`
	DurationMs int64              `bson:"durationMs" json:"durationMs"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}

// RecordAnalysis persists one audit event. Failures are logged and
// returned but must never block the analysis response.
func (s *AuditService) RecordAnalysis(ctx context.Context, event *AnalysisAuditEvent) error {
	if s.mongoDB == nil {
		return nil // Audit disabled
	}

	event.CreatedAt = time.Now().UTC()

	_, err := s.collection().InsertOne(ctx, event)
	if err != nil {
		log.Printf("⚠️  [AUDIT] Failed to record analysis event: %v", err)
		return err
	}
	return nil
}

// CountByPathSince aggregates analysis counts per delegation path for
// events created after the cutoff. Used by the nightly maintenance
// summary.
func (s *AuditService) CountByPathSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	counts := map[string]int64{}
	if s.mongoDB == nil {
		return counts, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"createdAt": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{"_id": "$path", "count": bson.M{"$sum": 1}}}},
	}

	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Path  string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	for _, row := range rows {
		counts[row.Path] = row.Count
	}
	return counts, nil
}

func (s *AuditService) collection() *mongo.Collection {
	return s.mongoDB.Collection(database.CollectionAuditEvents)
}
