package service

import (
	"sort"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/lock"
	"github.com/dujiao-next/flashsale/internal/queue"
)

func lockOptions(t config.LockTimeouts) lock.Options {
	return lock.Options{Wait: t.Wait, Lease: t.Lease}
}

// normalizeReservations 合并同一商品的数量并按商品 ID 升序排列
// 所有多商品加锁都基于该顺序，保证并发 saga 之间不会循环等待。
func normalizeReservations(lines []queue.Reservation) []queue.Reservation {
	merged := make(map[uint]int, len(lines))
	for _, line := range lines {
		merged[line.ProductID] += line.Quantity
	}
	out := make([]queue.Reservation, 0, len(merged))
	for productID, quantity := range merged {
		out = append(out, queue.Reservation{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func productLockKeys(lines []queue.Reservation) []string {
	sorted := normalizeReservations(lines)
	keys := make([]string, 0, len(sorted))
	for _, line := range sorted {
		keys = append(keys, lock.ProductStockKey(line.ProductID))
	}
	return keys
}
