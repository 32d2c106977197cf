package auth

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// UnsignedToken builds a three-part token carrying exp and the given extra
// claims, with a placeholder signature. It exists for tests and the
// development gateway's fixtures.
func UnsignedToken(exp time.Time, extra map[string]interface{}) string {
	header, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})

	claims := map[string]interface{}{"exp": exp.Unix()}
	for k, v := range extra {
		claims[k] = v
	}
	payload, _ := json.Marshal(claims)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + ".sig"
}
