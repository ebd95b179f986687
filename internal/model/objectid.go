package model

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// objectIDLength はドキュメントIDの16進文字列長。
const objectIDLength = 24

// NewObjectID はMongoDBのObjectIDと同形式のIDを生成する。
// 先頭4バイトがUNIX秒（ビッグエンディアン）、残り8バイトが乱数。
func NewObjectID(now time.Time) (string, error) {
	var b [12]byte
	binary.BigEndian.PutUint32(b[:4], uint32(now.Unix()))
	if _, err := rand.Read(b[4:]); err != nil {
		return "", fmt.Errorf("failed to generate object id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// IsValidObjectID はIDが24桁の16進文字列かどうかを判定する。大文字も許容する。
func IsValidObjectID(id string) bool {
	if len(id) != objectIDLength {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// NormalizeObjectID はIDを小文字に揃える。
func NormalizeObjectID(id string) string {
	return strings.ToLower(id)
}
