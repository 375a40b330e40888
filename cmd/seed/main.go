// Command seed fills the configured store with demo users, friendships,
// posts, comments and conversations.
package main

import (
	"context"
	"flag"
	"log"

	"vibesync/internal/bootstrap"
	"vibesync/internal/config"
	"vibesync/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 50, "Number of users to create")
	numPosts := flag.Int("posts", 200, "Number of posts to create")
	friends := flag.Int("friends", 5, "Friend requests sent per user")
	comments := flag.Int("comments", 6, "Maximum comments per post")
	seedValue := flag.Int64("seed", 0, "Random seed; 0 picks one")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.StoreBackend == "" || cfg.StoreBackend == config.StoreMemory {
		log.Fatalf("Seeding the in-memory store has no effect; set STORE_BACKEND to redis or firestore")
	}

	ctx := context.Background()
	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	svc := rt.Server.Services()

	log.Printf("Target: %d users, %d posts", *numUsers, *numPosts)
	s := seed.NewSeeder(seed.Services{
		Profiles: svc.Profiles,
		Friends:  svc.Friends,
		Posts:    svc.Posts,
		Comments: svc.Comments,
		Chat:     svc.Chat,
	}, *seedValue)

	res, err := s.Run(ctx, seed.Options{
		NumUsers:        *numUsers,
		NumPosts:        *numPosts,
		FriendsPerUser:  *friends,
		CommentsPerPost: *comments,
	})
	if err != nil {
		log.Fatalf("Seeding failed after %d users: %v", len(res.Users), err)
	}
	log.Printf("Seeded %d users, %d friendships, %d posts, %d comments, %d conversations",
		len(res.Users), res.Friendships, len(res.Posts), res.Comments, res.Conversations)
}
