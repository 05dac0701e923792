package click

import (
	"net"
	"strings"
)

// Known bot and crawler signatures, matched case-insensitively before the
// generic fallback tokens.
var botSignatures = []string{
	"googlebot",
	"bingbot",
	"slurp",
	"duckduckbot",
	"baiduspider",
	"yandexbot",
	"sogou",
	"exabot",
	"facebot",
	"facebookexternalhit",
	"ia_archiver",
	"twitterbot",
	"linkedinbot",
	"whatsapp",
	"telegrambot",
	"applebot",
	"pinterestbot",
	"discordbot",
	"slackbot",
	"semrushbot",
	"ahrefsbot",
	"mj12bot",
	"dotbot",
	"petalbot",
	"bytespider",
	"gptbot",
	"ccbot",
	"amazonbot",
	"uptimerobot",
	"pingdom",
	"headlesschrome",
	"phantomjs",
	"lighthouse",
	"wget",
	"curl",
}

var genericBotTokens = []string{"bot", "crawler", "spider", "scraper"}

// DetectBot matches the user agent against the known signature list first,
// then falls back to generic tokens.
func DetectBot(userAgent string) (bool, string) {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return false, ""
	}

	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			return true, sig
		}
	}

	for _, token := range genericBotTokens {
		if strings.Contains(ua, token) {
			return true, token
		}
	}

	return false, ""
}

type uaRule struct {
	token string
	label string
}

// Tablet rules come before mobile: tablet UA strings often also contain
// "mobile", so order is a correctness requirement.
var deviceRules = []struct {
	token  string
	device DeviceType
}{
	{"ipad", DeviceTablet},
	{"tablet", DeviceTablet},
	{"kindle", DeviceTablet},
	{"silk", DeviceTablet},
	{"playbook", DeviceTablet},
	{"mobile", DeviceMobile},
	{"android", DeviceMobile},
	{"iphone", DeviceMobile},
	{"ipod", DeviceMobile},
	{"blackberry", DeviceMobile},
	{"windows phone", DeviceMobile},
	{"opera mini", DeviceMobile},
	{"windows nt", DeviceDesktop},
	{"macintosh", DeviceDesktop},
	{"x11", DeviceDesktop},
	{"linux", DeviceDesktop},
	{"cros", DeviceDesktop},
}

func DetectDeviceType(userAgent string) DeviceType {
	ua := strings.ToLower(userAgent)
	for _, rule := range deviceRules {
		if strings.Contains(ua, rule.token) {
			return rule.device
		}
	}
	return DeviceUnknown
}

// Edge ("edg/") must be checked before Chrome since Edge UA strings contain
// "chrome"; Chromium likewise before Chrome.
var browserRules = []uaRule{
	{"edg/", "Edge"},
	{"edge", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser", "Samsung Internet"},
	{"chromium", "Chromium"},
	{"chrome", "Chrome"},
	{"firefox", "Firefox"},
	{"msie", "Internet Explorer"},
	{"trident", "Internet Explorer"},
	{"safari", "Safari"},
}

func DetectBrowser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, rule := range browserRules {
		if strings.Contains(ua, rule.token) {
			return rule.label
		}
	}
	return "Unknown"
}

var osRules = []uaRule{
	{"windows phone", "Windows Phone"},
	{"windows nt", "Windows"},
	{"android", "Android"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"ipod", "iOS"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

func DetectOS(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, rule := range osRules {
		if strings.Contains(ua, rule.token) {
			return rule.label
		}
	}
	return "Unknown"
}

// AnonymizeIP zeroes the last octet of an IPv4 address and truncates an IPv6
// address to its first four groups. Raw IPs are never persisted.
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}

	groups := strings.Split(parsed.String(), ":")
	if len(groups) > 4 {
		groups = groups[:4]
	}
	return strings.Join(groups, ":") + "::"
}
