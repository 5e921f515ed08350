/*
Copyright 2024 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httpsig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// KeyBits is the RSA modulus size used for newly generated actor keys.
const KeyBits = 2048

// Key pairs a keyId (an ActivityPub publicKey ID, e.g.
// "https://example.com/users/alice#main-key") with the private key material
// used to sign requests attributed to that actor.
type Key struct {
	ID         string
	PrivateKey any
}

// Generate creates a new RSA key pair for keyID.
func Generate(keyID string) (Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return Key{}, fmt.Errorf("failed to generate key: %w", err)
	}

	return Key{ID: keyID, PrivateKey: priv}, nil
}

// EncodePrivateKeyPEM encodes an RSA private key as PKCS#1 PEM, the form
// actor records are persisted with.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// DecodePrivateKeyPEM decodes an RSA private key previously encoded by
// [EncodePrivateKeyPEM].
func DecodePrivateKeyPEM(buf []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(buf)
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// EncodePublicKeyPEM encodes an RSA public key as the PKIX PEM form embedded
// in an actor's publicKeyPem field.
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	buf, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: buf}), nil
}

// DecodePublicKeyPEM decodes an RSA public key previously encoded by
// [EncodePublicKeyPEM].
func DecodePublicKeyPEM(buf []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(buf)
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}

	return rsaKey, nil
}
