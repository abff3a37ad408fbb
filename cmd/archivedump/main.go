package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	"aircomp/config"
	"aircomp/models"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var (
	instance = flag.String("instance", "", "Monitor instance ID whose archive to read (lists instances when empty)")
	last     = flag.Int("last", 10, "Number of most recent points to print")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.FirebaseDbUrl == "" || cfg.FirebaseServiceAccountJSON == "" {
		logger.Fatal("FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conf := &firebase.Config{DatabaseURL: cfg.FirebaseDbUrl}
	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		logger.Fatal("Error initializing Firebase app", zap.Error(err))
	}

	client, err := app.Database(ctx)
	if err != nil {
		logger.Fatal("Error getting database client", zap.Error(err))
	}

	root := strings.Trim(cfg.FirebaseArchivePath, "/")

	if *instance == "" {
		var instances map[string]bool
		if err := client.NewRef(root).GetShallow(ctx, &instances); err != nil {
			logger.Fatal("Error listing archived instances", zap.Error(err))
		}
		fmt.Printf("Archived instances under %s: %d\n", root, len(instances))
		for id := range instances {
			fmt.Println(id)
		}
		return
	}

	var points map[string]models.SeriesPoint
	if err := client.NewRef(root+"/"+*instance+"/points").Get(ctx, &points); err != nil {
		logger.Fatal("Error reading archived points", zap.Error(err))
	}
	var annotations map[string]models.Annotation
	if err := client.NewRef(root+"/"+*instance+"/annotations").Get(ctx, &annotations); err != nil {
		logger.Fatal("Error reading archived annotations", zap.Error(err))
	}

	fmt.Printf("Points: %d, annotations: %d\n", len(points), len(annotations))

	ordered := make([]models.SeriesPoint, 0, len(points))
	for _, p := range points {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Time < ordered[j].Time })
	if len(ordered) > *last {
		ordered = ordered[len(ordered)-*last:]
	}

	for _, p := range ordered {
		fmt.Printf("%s  tank %6.2f  line %6.2f  duty %5.1f%%\n",
			time.UnixMilli(int64(p.Time)).Format(time.RFC3339),
			p.TankPressure, p.LinePressure, p.Duty)
	}
}
