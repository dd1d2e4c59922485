// Package srp implements the SRP-6a exchange used by the sign-in endpoints:
// SHA-256, the RFC 5054 2048-bit group, padded k and u, and a private key
// derived without the username.
package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

const groupPrime = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B855F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773BCA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB694B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

const (
	// ProtocolS2K hashes the password once before key stretching.
	ProtocolS2K = "s2k"
	// ProtocolS2KFO hex-encodes the password hash before key stretching.
	ProtocolS2KFO = "s2k_fo"

	ephemeralBytes = 32
	derivedKeyLen  = 32
)

var (
	groupN, _ = new(big.Int).SetString(groupPrime, 16)
	groupG    = big.NewInt(2)
	groupLen  = len(groupN.Bytes())
)

// ErrInvalidChallenge is returned when the server's public value or the
// scrambling parameter is degenerate.
var ErrInvalidChallenge = errors.New("srp: invalid server challenge")

// Protocols lists the password protocols the client offers at sign-in.
func Protocols() []string {
	return []string{ProtocolS2K, ProtocolS2KFO}
}

// DerivePassword stretches password into the SRP secret for the protocol the
// server selected.
func DerivePassword(password string, salt []byte, iterations int, protocol string) ([]byte, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("srp: invalid iteration count %d", iterations)
	}
	sum := sha256.Sum256([]byte(password))
	p := sum[:]
	switch protocol {
	case ProtocolS2K:
	case ProtocolS2KFO:
		p = []byte(hex.EncodeToString(p))
	default:
		return nil, fmt.Errorf("srp: unsupported protocol %q", protocol)
	}
	return pbkdf2.Key(p, salt, iterations, derivedKeyLen, sha256.New), nil
}

// Client holds one side of a single SRP exchange.
type Client struct {
	a *big.Int
	A *big.Int
}

// NewClient creates a client with a random ephemeral key.
func NewClient() (*Client, error) {
	buf := make([]byte, ephemeralBytes)
	for {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("srp: failed to generate ephemeral key: %w", err)
		}
		c := newClient(new(big.Int).SetBytes(buf))
		if c.A.Sign() != 0 {
			return c, nil
		}
	}
}

func newClient(a *big.Int) *Client {
	return &Client{a: a, A: new(big.Int).Exp(groupG, a, groupN)}
}

// PublicKey returns A.
func (c *Client) PublicKey() []byte {
	return c.A.Bytes()
}

// Proof is the result of processing the server challenge.
type Proof struct {
	M1 []byte
	M2 []byte
	K  []byte
}

// ProcessChallenge computes the client proof M1 and the expected server proof
// M2 for account, the stretched password, salt and the server public value.
func (c *Client) ProcessChallenge(account string, derivedPassword, salt, serverPublic []byte) (*Proof, error) {
	B := new(big.Int).SetBytes(serverPublic)
	if new(big.Int).Mod(B, groupN).Sign() == 0 {
		return nil, ErrInvalidChallenge
	}
	u := scramble(c.A, B)
	if u.Sign() == 0 {
		return nil, ErrInvalidChallenge
	}

	x := privateKey(salt, derivedPassword)
	k := multiplier()

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(groupG, x, groupN)
	base := new(big.Int).Sub(B, new(big.Int).Mul(k, gx))
	base.Mod(base, groupN)
	exp := new(big.Int).Add(c.a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, groupN)

	K := hash(S.Bytes())
	m1 := clientProof(account, salt, c.A, B, K)
	return &Proof{M1: m1, M2: hash(c.A.Bytes(), m1, K), K: K}, nil
}

// Verifier returns v = g^x for the stretched password and salt.
func Verifier(derivedPassword, salt []byte) []byte {
	x := privateKey(salt, derivedPassword)
	return new(big.Int).Exp(groupG, x, groupN).Bytes()
}

// Server is the verifier side of an exchange. It is used to emulate the
// sign-in endpoints.
type Server struct {
	v *big.Int
	b *big.Int
	B *big.Int
}

// NewServer creates a server for the given verifier with a random ephemeral key.
func NewServer(verifier []byte) (*Server, error) {
	buf := make([]byte, ephemeralBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("srp: failed to generate ephemeral key: %w", err)
	}
	v := new(big.Int).SetBytes(verifier)
	b := new(big.Int).SetBytes(buf)
	// B = k*v + g^b mod N
	B := new(big.Int).Mul(multiplier(), v)
	B.Add(B, new(big.Int).Exp(groupG, b, groupN))
	B.Mod(B, groupN)
	return &Server{v: v, b: b, B: B}, nil
}

// PublicKey returns B.
func (s *Server) PublicKey() []byte {
	return s.B.Bytes()
}

// Verify checks the client proof and returns the server proof M2.
func (s *Server) Verify(account string, salt, clientPublic, m1 []byte) ([]byte, bool) {
	A := new(big.Int).SetBytes(clientPublic)
	if new(big.Int).Mod(A, groupN).Sign() == 0 {
		return nil, false
	}
	u := scramble(A, s.B)
	// S = (A * v^u) ^ b mod N
	S := new(big.Int).Exp(s.v, u, groupN)
	S.Mul(S, A)
	S.Mod(S, groupN)
	S.Exp(S, s.b, groupN)

	K := hash(S.Bytes())
	expected := clientProof(account, salt, A, s.B, K)
	if subtle.ConstantTimeCompare(expected, m1) != 1 {
		return nil, false
	}
	return hash(A.Bytes(), m1, K), true
}

func clientProof(account string, salt []byte, A, B *big.Int, K []byte) []byte {
	hn := hash(groupN.Bytes())
	hg := hash(pad(groupG))
	for i := range hn {
		hn[i] ^= hg[i]
	}
	return hash(hn, hash([]byte(account)), new(big.Int).SetBytes(salt).Bytes(), A.Bytes(), B.Bytes(), K)
}

func privateKey(salt, derivedPassword []byte) *big.Int {
	inner := hash([]byte(":"), derivedPassword)
	return new(big.Int).SetBytes(hash(salt, inner))
}

func multiplier() *big.Int {
	return new(big.Int).SetBytes(hash(groupN.Bytes(), pad(groupG)))
}

func scramble(A, B *big.Int) *big.Int {
	return new(big.Int).SetBytes(hash(pad(A), pad(B)))
}

func pad(n *big.Int) []byte {
	out := make([]byte, groupLen)
	return n.FillBytes(out)
}

func hash(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
