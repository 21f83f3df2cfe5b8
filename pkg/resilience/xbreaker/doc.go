// Package xbreaker 提供按端点隔离的熔断器，保护脆弱的上游 API 不被持续重试压垮。
//
// # 状态机
//
//   - StateClosed：正常放行，记录连续失败次数
//   - StateOpen：连续失败达到阈值后拒绝所有尝试，直到冷却期结束
//   - StateHalfOpen：冷却期结束后只放行一次试探请求，成功则关闭，失败则重新打开
//
// 底层基于 [sony/gobreaker/v2] 的 TwoStepCircuitBreaker（MaxRequests=1，Interval=0），
// Breaker 在其上补充失败计数与最近失败时间，供状态持久化与诊断使用。
//
// # 使用方式
//
//	reg := xbreaker.NewRegistry(xbreaker.WithFailureThreshold(5))
//	attempt, err := reg.Allow("api.example.com/odata/orders")
//	if err != nil {
//	    return err // *xfault.CircuitOpenError，不应在当前页内重试
//	}
//	if err := call(); err != nil {
//	    attempt.Failure()
//	    return err
//	}
//	attempt.Success()
//
// 被取消的请求调用 Attempt.Release，既不计成功也不计失败。
//
// [sony/gobreaker/v2]: https://github.com/sony/gobreaker
package xbreaker
