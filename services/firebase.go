package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aircomp/config"
	"aircomp/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirebaseArchive stores chart series points and annotations in the
// Realtime Database under <archive path>/<instance id>
type FirebaseArchive struct {
	client     *db.Client
	config     *config.Config
	instanceID string
	logger     *zap.Logger
}

func NewFirebaseArchive(cfg *config.Config, instanceID string, logger *zap.Logger) (*FirebaseArchive, error) {
	ctx := context.Background()

	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fa := &FirebaseArchive{
		client:     client,
		config:     cfg,
		instanceID: instanceID,
		logger:     logger,
	}

	// Test Firebase connection with retry
	if err := fa.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fa, nil
}

// testConnection tests Firebase connection with retry logic
func (fa *FirebaseArchive) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fa.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var data interface{}
		err := fa.client.NewRef(fa.rootPath()).Get(ctx, &data)
		if err == nil {
			fa.logger.Info("Firebase connection successful")
			return nil
		}

		fa.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second) // Exponential backoff
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

func (fa *FirebaseArchive) rootPath() string {
	return strings.Trim(fa.config.FirebaseArchivePath, "/") + "/" + fa.instanceID
}

// WriteBatch writes points and annotations in one multi-path update.
// Points are keyed by their local time, annotations by ledger key, so a
// rewrite of the same entry overwrites it.
func (fa *FirebaseArchive) WriteBatch(ctx context.Context, points []models.SeriesPoint, annotations []models.Annotation) error {
	update := ArchiveUpdate(points, annotations)
	if len(update) == 0 {
		return nil
	}

	if err := fa.client.NewRef(fa.rootPath()).Update(ctx, update); err != nil {
		return fmt.Errorf("failed to write archive batch: %w", err)
	}
	return nil
}

// ArchiveUpdate builds the multi-path update for a batch
func ArchiveUpdate(points []models.SeriesPoint, annotations []models.Annotation) map[string]interface{} {
	update := make(map[string]interface{}, len(points)+len(annotations))
	for _, p := range points {
		update["points/"+strconv.FormatFloat(p.Time, 'f', 0, 64)] = p
	}
	for _, a := range annotations {
		update["annotations/"+firebaseKey(a.Key)] = a
	}
	return update
}

// firebaseKey replaces characters the Realtime Database refuses in keys
func firebaseKey(key string) string {
	return strings.NewReplacer(".", "_", "$", "_", "#", "_", "[", "_", "]", "_", "/", "_").Replace(key)
}

// Close closes the Firebase connection
func (fa *FirebaseArchive) Close() error {
	fa.logger.Info("Closing Firebase archive")
	// Firebase client doesn't require explicit closing but we log it
	return nil
}
