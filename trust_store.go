package tfa

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const trustRecordVersion1 = 1

// RedisTrustStore is the built-in TrustStore: one binary-encoded value per
// user holding the full device list, expiring with the longest-lived record.
//
// RedisTrustStore instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RedisTrustStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisTrustStore describes the newredisstruststore operation and its observable behavior.
//
// NewRedisTrustStore may return an error when input validation, dependency calls, or security checks fail.
// NewRedisTrustStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewRedisTrustStore(redisClient *redis.Client, prefix string) *RedisTrustStore {
	if prefix == "" {
		prefix = "tfa"
	}
	return &RedisTrustStore{redis: redisClient, prefix: prefix}
}

func (s *RedisTrustStore) key(userID string) string {
	return s.prefix + ":td:" + userID
}

// Load describes the load operation and its observable behavior.
//
// Load may return an error when input validation, dependency calls, or security checks fail.
// Load does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisTrustStore) Load(ctx context.Context, userID string) ([]TrustedDevice, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return decodeTrustedDevices(data)
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisTrustStore) Save(ctx context.Context, userID string, devices []TrustedDevice) error {
	if len(devices) == 0 {
		return s.redis.Del(ctx, s.key(userID)).Err()
	}

	encoded, err := encodeTrustedDevices(devices)
	if err != nil {
		return err
	}

	// The key only needs to outlive its longest-lived record; grants prune,
	// so a stale key cannot resurrect an expired device.
	var latest time.Time
	for _, d := range devices {
		if d.ExpiresAt.After(latest) {
			latest = d.ExpiresAt
		}
	}
	ttl := time.Until(latest)
	if ttl <= 0 {
		return s.redis.Del(ctx, s.key(userID)).Err()
	}

	return s.redis.Set(ctx, s.key(userID), encoded, ttl).Err()
}

func encodeTrustedDevices(devices []TrustedDevice) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(trustRecordVersion1)

	if len(devices) > 65535 {
		return nil, errors.New("trusted device list too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(devices))); err != nil {
		return nil, err
	}

	for _, d := range devices {
		if err := binary.Write(&buf, binary.BigEndian, d.ExpiresAt.Unix()); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, d.CreatedAt.Unix()); err != nil {
			return nil, err
		}
		for _, field := range []string{d.ID, d.Token, d.OriginAddress, d.ClientDescriptor} {
			if len(field) > 65535 {
				return nil, errors.New("trusted device field length exceeded")
			}
			if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
				return nil, err
			}
			buf.WriteString(field)
		}
	}

	return buf.Bytes(), nil
}

func decodeTrustedDevices(data []byte) ([]TrustedDevice, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != trustRecordVersion1 {
		return nil, errors.New("invalid trusted device record version")
	}

	var count uint16
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, err
	}

	devices := make([]TrustedDevice, 0, count)
	for i := 0; i < int(count); i++ {
		var expiresAt, createdAt int64
		if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
			return nil, err
		}
		if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
			return nil, err
		}

		fields := make([]string, 4)
		for f := range fields {
			var length uint16
			if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
				return nil, err
			}
			raw := make([]byte, length)
			if _, err := io.ReadFull(reader, raw); err != nil {
				return nil, err
			}
			fields[f] = string(raw)
		}

		devices = append(devices, TrustedDevice{
			ID:               fields[0],
			Token:            fields[1],
			OriginAddress:    fields[2],
			ClientDescriptor: fields[3],
			ExpiresAt:        time.Unix(expiresAt, 0),
			CreatedAt:        time.Unix(createdAt, 0),
		})
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("trailing bytes in trusted device record: %d", reader.Len())
	}
	return devices, nil
}
