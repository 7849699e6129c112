package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cealn-go/cealn/buildevent"
	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/coordinator"
	"github.com/cealn-go/cealn/query"
	"github.com/cealn-go/cealn/server"
)

// configKey canonicalizes a BuildConfig into the string query.Query.Config
// expects, so that two requests carrying the same options in different
// map iteration order dedupe to the same query node.
func configKey(c buildevent.Config) string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c[k])
	}
	return strings.Join(parts, ",")
}

// runBuild drives one BuildRequest to completion against the shared
// query graph, translating each target's Output query into the
// BuildEvent stream.
func runBuild(ctx context.Context, svc *server.Services, req buildevent.Request, s *coordinator.Session, log *common.ContextLogger) {
	now := requestTime()
	for _, target := range req.Targets {
		q := query.Query{Kind: query.KindOutput, Label: target, Config: configKey(req.BuildConfig)}

		s.Publish(buildevent.QueryRunStart(target))
		result, release := svc.Graph.Request(ctx, q, now)
		release()
		s.Publish(buildevent.QueryRunEnd(target))

		if result.Err != nil {
			s.Publish(buildevent.InternalError(target, result.Err.Error(), "", "", ""))
			log.WithField("target", target.Display()).WithError(result.Err).Warn("build target failed")
			if !req.KeepGoing {
				return
			}
			continue
		}
	}
}

// requestTime returns the timestamp runBuild takes once per request and
// shares across every target, rather than a fresh time.Now() per target.
func requestTime() time.Time { return time.Now() }
