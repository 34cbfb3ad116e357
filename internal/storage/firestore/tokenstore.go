// Package firestore persists device registrations in Cloud Firestore under
// users/{userID}/devices/{deviceHash}.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

const (
	platformFCM  = "fcm"
	platformAPNS = "apns"
	platformWeb  = "web"
)

// Store implements dispatch.TokenStore on Cloud Firestore.
type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

// deviceRecord is the stored representation of one registration. Token is
// set for mobile platforms, WebSubscription for browsers.
type deviceRecord struct {
	Platform        string                        `firestore:"platform"`
	Token           string                        `firestore:"token,omitempty"`
	WebSubscription *dispatch.WebPushSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                     `firestore:"updated_at"`
}

// --- Door A: FCM ---

func (s *Store) RegisterFCM(ctx context.Context, userID, token string) error {
	record := deviceRecord{
		Platform:  platformFCM,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	// The token hash is the doc ID, so re-registering is an idempotent Set.
	_, err := s.deviceRef(userID, hashToken(token)).Set(ctx, record)
	return err
}

func (s *Store) UnregisterFCM(ctx context.Context, userID, token string) error {
	_, err := s.deviceRef(userID, hashToken(token)).Delete(ctx)
	return err
}

// --- Door B: APNs ---

func (s *Store) RegisterAPNS(ctx context.Context, userID, token string) error {
	record := deviceRecord{
		Platform:  platformAPNS,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	_, err := s.deviceRef(userID, hashToken(token)).Set(ctx, record)
	return err
}

func (s *Store) UnregisterAPNS(ctx context.Context, userID, token string) error {
	_, err := s.deviceRef(userID, hashToken(token)).Delete(ctx)
	return err
}

// --- Door C: Web (VAPID) ---

func (s *Store) RegisterWeb(ctx context.Context, userID string, sub dispatch.WebPushSubscription) error {
	// For Web the endpoint URL is the unique identifier.
	record := deviceRecord{
		Platform:        platformWeb,
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}
	_, err := s.deviceRef(userID, hashToken(sub.Endpoint)).Set(ctx, record)
	return err
}

func (s *Store) UnregisterWeb(ctx context.Context, userID, endpoint string) error {
	_, err := s.deviceRef(userID, hashToken(endpoint)).Delete(ctx)
	return err
}

// --- Fan-out lookup ---

func (s *Store) Fetch(ctx context.Context, userID string) (*dispatch.DeviceSet, error) {
	iter := s.devicesCollection(userID).Documents(ctx)
	defer iter.Stop()

	devices := &dispatch.DeviceSet{
		UserID:           userID,
		FCMTokens:        make([]string, 0),
		APNSTokens:       make([]string, 0),
		WebSubscriptions: make([]dispatch.WebPushSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Corrupt rows are skipped, not fatal.
			continue
		}

		switch {
		case record.Platform == platformWeb && record.WebSubscription != nil:
			devices.WebSubscriptions = append(devices.WebSubscriptions, *record.WebSubscription)
		case record.Platform == platformAPNS && record.Token != "":
			devices.APNSTokens = append(devices.APNSTokens, record.Token)
		case record.Token != "":
			devices.FCMTokens = append(devices.FCMTokens, record.Token)
		}
	}

	return devices, nil
}

// --- Helpers ---

// deviceRef: users/{userID}/devices/{deviceHash}
func (s *Store) deviceRef(userID, docID string) *firestore.DocumentRef {
	return s.devicesCollection(userID).Doc(docID)
}

func (s *Store) devicesCollection(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("devices")
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
