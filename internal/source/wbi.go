package source

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// mixinKeyEncTab is the fixed permutation Bilibili applies to img_key+sub_key.
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32,
	15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19,
	29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61,
	26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63,
	57, 62, 11, 36, 20, 34, 44, 52,
}

// wbiKeys is the key pair published by the nav endpoint.
type wbiKeys struct {
	img string
	sub string
}

// newWBIKeys derives the key pair from the nav endpoint's image URLs.
// Each key is the basename of its URL without the extension.
func newWBIKeys(imgURL, subURL string) (wbiKeys, error) {
	k := wbiKeys{img: keyFromURL(imgURL), sub: keyFromURL(subURL)}
	if len(k.img)+len(k.sub) < len(mixinKeyEncTab) {
		return wbiKeys{}, fmt.Errorf("wbi keys too short (img %d, sub %d)", len(k.img), len(k.sub))
	}
	return k, nil
}

func keyFromURL(raw string) string {
	base := path.Base(raw)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func (k wbiKeys) mixinKey() string {
	orig := k.img + k.sub
	var b strings.Builder
	for _, i := range mixinKeyEncTab[:32] {
		b.WriteByte(orig[i])
	}
	return b.String()
}

// signQuery returns params plus wts and w_rid, encoded in key order.
func signQuery(params map[string]string, keys wbiKeys, now time.Time) (string, error) {
	if keys.img == "" || keys.sub == "" {
		return "", errors.New("wbi keys are not initialized")
	}

	signed := make(map[string]string, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	signed["wts"] = strconv.FormatInt(now.Unix(), 10)

	names := make([]string, 0, len(signed))
	for k := range signed {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, encodeURIComponent(k)+"="+encodeURIComponent(signed[k]))
	}
	query := strings.Join(pairs, "&")

	sum := md5.Sum([]byte(query + keys.mixinKey()))
	return query + "&w_rid=" + hex.EncodeToString(sum[:]), nil
}

// uriUnreserved restores the characters encodeURIComponent leaves as-is
// but url.QueryEscape escapes.
var uriUnreserved = strings.NewReplacer("+", "%20", "%21", "!", "%27", "'", "%28", "(", "%29", ")", "%2A", "*")

// encodeURIComponent percent-encodes s the way browsers do for query values.
func encodeURIComponent(s string) string {
	return uriUnreserved.Replace(url.QueryEscape(s))
}
