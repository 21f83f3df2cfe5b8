// Package xfault 定义摄取链路的故障分类体系。
//
// # 分类
//
// 所有抓取失败都会被映射到一个封闭的 [Category]：
//   - CategoryNetwork：连接拒绝、连接重置、DNS 失败等连接层故障
//   - CategoryTimeout：显式的截止时间或超时
//   - CategoryServer：HTTP 5xx（以及 429 限流）
//   - CategoryClient：HTTP 4xx，请求本身有误，永不重试
//   - CategoryUnknown：响应体无法解码或其他无法识别的错误
//
// [Classify] 是纯函数且是全函数：任何 error 都恰好映射到一个分类。
//
// # 错误类型
//
//   - [StatusError]：非 2xx 响应
//   - [DecodeError]：响应体为空或格式错误
//   - [FetchError]：一次页面抓取失败，携带分类与请求参数
//   - [CircuitOpenError]：熔断器拒绝了本次尝试（不计入失败次数）
//   - [IncompleteDatasetWarning]：运行结束时记录数与期望总数不符（非致命）
//
// 所有错误类型都实现 Retryable() bool，可直接被 xretry 识别。
package xfault
