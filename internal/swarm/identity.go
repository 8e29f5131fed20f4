package swarm

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// JoinWindow bounds how old a signed join request may be.
const JoinWindow = 5 * time.Minute

// Identity is the key pair a backend uses on every swarm it joins. The
// hex-encoded public key is the peer identity other participants see.
type Identity struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &Identity{public: pub, private: priv}, nil
}

// ID is the hex public key.
func (i *Identity) ID() string {
	return hex.EncodeToString(i.public)
}

// SignJoin signs a request to join topic at the given time.
func (i *Identity) SignJoin(topic Topic, at time.Time) (ts string, sig string) {
	ts = strconv.FormatInt(at.Unix(), 10)
	return ts, hex.EncodeToString(ed25519.Sign(i.private, joinMessage(topic.String(), ts)))
}

// VerifyJoin checks a join request produced by SignJoin.
func VerifyJoin(topic, peer, ts, sig string, now time.Time) error {
	pub, err := hex.DecodeString(peer)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.New("invalid peer key")
	}
	rawSig, err := hex.DecodeString(sig)
	if err != nil {
		return errors.New("invalid signature encoding")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("invalid timestamp")
	}
	if d := now.Sub(time.Unix(unix, 0)); d > JoinWindow || d < -JoinWindow {
		return errors.New("join request expired")
	}
	if !ed25519.Verify(pub, joinMessage(topic, ts), rawSig) {
		return errors.New("signature mismatch")
	}
	return nil
}

func joinMessage(topic, ts string) []byte {
	return []byte("huddle-join:" + topic + ":" + ts)
}
