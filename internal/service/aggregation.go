package service

import (
	"math"
	"time"
)

// RaterRank 一位评分人对一个目标的一次排名
type RaterRank struct {
	Rater   string
	Target  string
	Rank    int
	Version time.Time
}

// AggregatedRank 多评分人聚合结果
type AggregatedRank struct {
	Target     string
	Rank       int     // round(MeanRank)
	MeanRank   float64
	RaterCount int
}

// AggregateRaterRankings 多评分人排名聚合
//
//  1. 每位评分人只取 Version 最大的那一批行，旧版本整体作废，不跨版本合并
//  2. 每个目标收集各评分人最新版本中的名次，未排该目标的评分人不参与
//  3. 聚合名次 = 名次均值四舍五入
//
// 输出按目标在（已过滤）输入中首次出现的顺序排列，不做并列消解。
func AggregateRaterRankings(rows []RaterRank) []AggregatedRank {
	latest := make(map[string]time.Time)
	for _, r := range rows {
		rater := normalizeEmail(r.Rater)
		if v, ok := latest[rater]; !ok || r.Version.After(v) {
			latest[rater] = r.Version
		}
	}

	type acc struct {
		sum   int
		count int
	}
	sums := make(map[string]*acc)
	var order []string
	seen := make(map[string]bool) // rater|target，同一版本内重复行只计一次

	for _, r := range rows {
		rater := normalizeEmail(r.Rater)
		if !r.Version.Equal(latest[rater]) {
			continue
		}
		pair := rater + "|" + r.Target
		if seen[pair] {
			continue
		}
		seen[pair] = true

		a, ok := sums[r.Target]
		if !ok {
			a = &acc{}
			sums[r.Target] = a
			order = append(order, r.Target)
		}
		a.sum += r.Rank
		a.count++
	}

	result := make([]AggregatedRank, 0, len(order))
	for _, target := range order {
		a := sums[target]
		mean := float64(a.sum) / float64(a.count)
		result = append(result, AggregatedRank{
			Target:     target,
			Rank:       int(math.Floor(mean + 0.5)),
			MeanRank:   mean,
			RaterCount: a.count,
		})
	}
	return result
}
