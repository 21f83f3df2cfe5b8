// Package xsink 定义摄取结果的落地接口及其实现。
//
// 记录（Record）对摄取核心是不透明的 JSON 对象，抓取之后不再修改。
// Sink 必须满足按主键幂等写入：同一条记录写入多次，结果与写入一次相同，
// 这是断点续传与重复页去重的前提。
//
// 内置实现：
//   - MemorySink：进程内存，主要用于测试与演练
//   - FileSink：JSON Lines 文件，启动时重建主键索引
//   - MongoSink：MongoDB，按 _id 批量 upsert
//   - ClickHouseSink：ClickHouse ReplacingMergeTree，按主键去重
//   - QueueSink：发布到 Pulsar 或 Kafka，只追加，无法回读
package xsink
