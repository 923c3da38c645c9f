// Package oralcare 是口腔癌筛查后端：图片分类概率与临床元数据风险概率线性融合，
// 得出最终分数与判定，并按用户保存预测历史。
//
// 包结构：
// - core: 领域类型与接口（分类器、存储、DomainError）
// - feature / imaging: 临床元数据映射与图片预处理
// - model / service: 本地（ONNX、随机森林、LR）与远程（TF Serving、KServe、TorchServe、RPC）分类器
// - fusion / predict / pipeline: 融合规则与预测编排
// - store / auth / chat / api: 持久化、账号、助手与 HTTP 接口
// - cmd/oralcare-server: 服务入口
package oralcare
