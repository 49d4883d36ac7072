package rules

import (
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	cacheSize    = 256
	matchTimeout = 100 * time.Millisecond
)

type compiled struct {
	re  *regexp2.Regexp
	err error
}

// cache 已编译正则的 LRU 缓存，编译失败的结果同样缓存
type cache struct {
	lru *lru.Cache[string, compiled]
}

var regexCache = newCache(cacheSize)

func newCache(size int) *cache {
	c, err := lru.New[string, compiled](size)
	if err != nil {
		panic(err)
	}
	return &cache{lru: c}
}

// Get 获取或编译正则（ECMAScript 语义）
func (c *cache) Get(expr string) (*regexp2.Regexp, error) {
	if v, ok := c.lru.Get(expr); ok {
		return v.re, v.err
	}
	re, err := regexp2.Compile(expr, regexp2.ECMAScript)
	if err == nil {
		re.MatchTimeout = matchTimeout
	}
	c.lru.Add(expr, compiled{re: re, err: err})
	return re, err
}

// Len 当前缓存条目数
func (c *cache) Len() int { return c.lru.Len() }
