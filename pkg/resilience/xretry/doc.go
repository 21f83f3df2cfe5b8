// Package xretry 提供按故障分类决策的重试策略与执行器。
//
// # 策略
//
// [Policy] 回答两个问题：
//   - ComputeDelay(attempt)：第 attempt 次重试前等待多久。
//     指数退避 base*2^attempt，封顶 maxDelay，再叠加 ±jitter（默认 20%）。
//     任何情况下都不超过 maxDelay*(1+jitter)。
//   - ShouldRetry(category, attempt, maxAttempts)：是否继续重试。
//     Client 分类永远返回 false；attempt 达到 maxAttempts 后返回 false。
//
// 默认值：base=1s，maxDelay=30s，maxAttempts=5，jitter=0.2。
//
// # 执行器
//
// [Retryer] 底层使用 [avast/retry-go/v5]，退避睡眠通过 context 可随时取消。
// 重试耗尽时返回 [ExhaustedError]（errors.Is(err, ErrExhausted) 为 true），
// 绝不会被当成数据已经读完。
//
//	policy := xretry.NewPolicy(xretry.WithMaxAttempts(5))
//	r := xretry.NewRetryer(policy)
//	page, err := xretry.DoWithResult(ctx, r, func(ctx context.Context, attempt int) (*Page, error) {
//	    return fetcher.FetchPage(ctx, endpoint, req)
//	})
//
// 抖动使用 crypto/rand 生成。
//
// [avast/retry-go/v5]: https://github.com/avast/retry-go
package xretry
