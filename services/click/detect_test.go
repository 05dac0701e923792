package click

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnonymizeIPv4(t *testing.T) {
	require.Equal(t, "192.168.1.0", AnonymizeIP("192.168.1.57"))
	require.Equal(t, "10.0.0.0", AnonymizeIP("10.0.0.255"))
}

func TestAnonymizeIPv6(t *testing.T) {
	require.Equal(t, "2001:db8:abcd:12::", AnonymizeIP("2001:db8:abcd:12::1"))
	require.Equal(t, "2001:db8:abcd:12::", AnonymizeIP("2001:db8:abcd:12:ffff:ffff:ffff:ffff"))
}

func TestAnonymizeIPInvalid(t *testing.T) {
	require.Equal(t, "", AnonymizeIP("not-an-ip"))
	require.Equal(t, "", AnonymizeIP(""))
}

func TestDetectBotKnownSignatures(t *testing.T) {
	isBot, sig := DetectBot("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	require.True(t, isBot)
	require.Equal(t, "googlebot", sig)

	isBot, sig = DetectBot("Mozilla/5.0 (compatible; AhrefsBot/7.0; +http://ahrefs.com/robot/)")
	require.True(t, isBot)
	require.Equal(t, "ahrefsbot", sig)
}

func TestDetectBotGenericFallback(t *testing.T) {
	isBot, sig := DetectBot("SomeUnknownCrawler/1.0")
	require.True(t, isBot)
	require.Equal(t, "crawler", sig)
}

func TestDetectBotHuman(t *testing.T) {
	isBot, sig := DetectBot("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	require.False(t, isBot)
	require.Empty(t, sig)

	isBot, _ = DetectBot("")
	require.False(t, isBot)
}

func TestDetectDeviceTypeTabletBeforeMobile(t *testing.T) {
	// iPad UA also contains "Mobile"; tablet rules must win
	require.Equal(t, DeviceTablet, DetectDeviceType("Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148"))
	require.Equal(t, DeviceTablet, DetectDeviceType("Mozilla/5.0 (Linux; Android 13; SM-X200 Tablet) Mobile Safari/537.36"))
}

func TestDetectDeviceType(t *testing.T) {
	require.Equal(t, DeviceMobile, DetectDeviceType("Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) Mobile/15E148"))
	require.Equal(t, DeviceDesktop, DetectDeviceType("Mozilla/5.0 (Windows NT 10.0; Win64; x64)"))
	require.Equal(t, DeviceDesktop, DetectDeviceType("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"))
	require.Equal(t, DeviceUnknown, DetectDeviceType(""))
}

func TestDetectBrowserEdgeBeforeChrome(t *testing.T) {
	// Edge UA contains "Chrome"; edg/ must be matched first
	require.Equal(t, "Edge", DetectBrowser("Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0"))
}

func TestDetectBrowserChromiumBeforeChrome(t *testing.T) {
	require.Equal(t, "Chromium", DetectBrowser("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chromium/120.0 Chrome/120.0 Safari/537.36"))
	require.Equal(t, "Chrome", DetectBrowser("Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"))
}

func TestDetectBrowser(t *testing.T) {
	require.Equal(t, "Firefox", DetectBrowser("Mozilla/5.0 (Windows NT 10.0; rv:120.0) Gecko/20100101 Firefox/120.0"))
	require.Equal(t, "Safari", DetectBrowser("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 Version/17.0 Safari/605.1.15"))
	require.Equal(t, "Unknown", DetectBrowser("telnet/1.0"))
}

func TestDetectOS(t *testing.T) {
	require.Equal(t, "Windows", DetectOS("Mozilla/5.0 (Windows NT 10.0; Win64; x64)"))
	require.Equal(t, "iOS", DetectOS("Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X)"))
	require.Equal(t, "Android", DetectOS("Mozilla/5.0 (Linux; Android 13; Pixel 7)"))
	require.Equal(t, "macOS", DetectOS("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"))
	require.Equal(t, "Unknown", DetectOS(""))
}
