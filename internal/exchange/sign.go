package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// signBinance 对已编码的查询串做 HMAC-SHA256，返回带 signature 的完整查询串
func signBinance(secret string, q url.Values, now time.Time, recvWindow int64) string {
	q.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	if recvWindow > 0 {
		q.Set("recvWindow", strconv.FormatInt(recvWindow, 10))
	}
	raw := q.Encode()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(raw))
	return raw + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

// signGate Gate v4 签名：
// HMAC-SHA512(secret, METHOD\nPATH\nQUERY\nHEX(SHA512(body))\nTIMESTAMP)
func signGate(secret, method, path, rawQuery string, body []byte, ts int64) string {
	bodyHash := sha512.Sum512(body)
	payload := strings.Join([]string{
		strings.ToUpper(method),
		path,
		rawQuery,
		hex.EncodeToString(bodyHash[:]),
		strconv.FormatInt(ts, 10),
	}, "\n")
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
