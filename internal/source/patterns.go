package source

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// urlPattern matches links on the supported platforms
var urlPattern = regexp.MustCompile(`https?://(?:www\.)?(?:` +
	`tiktok\.com|vm\.tiktok\.com|vt\.tiktok\.com|` +
	`youtube\.com(?:/shorts|/watch)?|youtu\.be|` +
	`instagram\.com(?:/reel|/p)?|` +
	`vk\.com(?:/clip|/video)?|` +
	`twitter\.com|x\.com|` +
	`douyin\.com|` +
	`bilibili\.com|b23\.tv|` +
	`weibo\.com|` +
	`youku\.com|v\.youku\.com|` +
	`iqiyi\.com|` +
	`kuaishou\.com|gifshow\.com|v\.kuaishou\.com|c\.kuaishou\.com|` +
	`xiaohongshu\.com|xhslink\.com|` +
	`qq\.com|v\.qq\.com` +
	`)[^\s]+`)

// Extract returns the first supported link in text
func Extract(text string) (string, bool) {
	m := urlPattern.FindString(text)
	return m, m != ""
}

// Key is the cache key of a link
func Key(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

func isNoWatermarkHost(url string) bool {
	u := strings.ToLower(url)
	return strings.Contains(u, "tiktok.com") || strings.Contains(u, "douyin.com")
}

func isKuaishouHost(url string) bool {
	u := strings.ToLower(url)
	return strings.Contains(u, "kuaishou.com") || strings.Contains(u, "gifshow.com")
}

// kuaishouPatterns are tried in order against the page HTML
var kuaishouPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"srcNoMark"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"photoUrl"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"playUrl"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"(https?:[^"]*\.mp4[^"]*)"`),
}

// findKuaishouMedia extracts the best media link from a Kuaishou page
func findKuaishouMedia(html string) (string, bool) {
	for _, re := range kuaishouPatterns {
		m := re.FindStringSubmatch(html)
		if m == nil {
			continue
		}
		if u := decodeEscapes(m[1]); strings.HasPrefix(u, "http") {
			return u, true
		}
	}
	return "", false
}

// decodeEscapes undoes the JSON-in-HTML escaping of a URL
func decodeEscapes(s string) string {
	s = strings.ReplaceAll(s, `\/`, "/")
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return strings.ReplaceAll(s, `\u002F`, "/")
}
