package oracle

import "strings"

var (
	registryPrefix    = []byte("oracle/registry/")
	twapPrefix        = []byte("oracle/twap/")
	customPricePrefix = []byte("oracle/custom/")
	feedIDPrefix      = []byte("oracle/feed/")
	stalenessPrefix   = []byte("oracle/staleness/")
)

func registryKey(pair Pair) []byte {
	return appendKey(registryPrefix, pair.Key())
}

func twapKey(pair Pair) []byte {
	return appendKey(twapPrefix, pair.Key())
}

func customPriceKey(pair Pair) []byte {
	return appendKey(customPricePrefix, pair.Key())
}

func feedIDKey(token string) []byte {
	return appendKey(feedIDPrefix, normaliseSymbol(token))
}

func stalenessKey(pair Pair) []byte {
	return appendKey(stalenessPrefix, pair.Key())
}

func appendKey(prefix []byte, suffix string) []byte {
	trimmed := strings.TrimSpace(suffix)
	buf := make([]byte, len(prefix)+len(trimmed))
	copy(buf, prefix)
	copy(buf[len(prefix):], trimmed)
	return buf
}
