// Package xfetch 对 OData 端点执行单次页面抓取。
//
// [Fetcher.FetchPage] 只做一次尝试，重试由调用方（xretry）负责：
//  1. 可选的限流等待（[Limiter]，如 xlimit.Redis）
//  2. 向端点对应的熔断器申请尝试，被拒绝时返回包裹
//     xfault.CircuitOpenError 的 FetchError，不计入失败
//  3. 带单次超时的 GET 请求
//  4. 失败经 xfault.Classify 分类后计入熔断器；调用方取消只释放名额
//  5. 成功时解码 {"value": [...]}，数字保持 json.Number 原样
//
// 熔断器以 [EndpointKey]（小写 host + path）为键，所有流共享同一 Registry。
package xfetch
