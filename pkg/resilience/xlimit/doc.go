// Package xlimit 为脆弱的上游 API 提供请求预算控制。
//
// 抓取器在每次尝试前调用 [Limiter.Wait]：
//   - [Local]：进程内令牌桶
//   - [Redis]：基于 redis_rate 的 GCRA 分布式限流，多个摄取进程共享同一预算；
//     Redis 不可用时降级到可选的本地限流器
//
// 规则 [Rule] 含义与 redis_rate.Limit 一致：每 Period 允许 Rate 次，突发 Burst。
package xlimit
