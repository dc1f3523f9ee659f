package sqsjson

import (
	"net/http"
	"strings"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.msgemu.dev/internal/bus"
)

// queueFromURL resolves a QueueUrl wire parameter to a *bus.QueueResource.
// Queue urls always end in the queue name (see bus.QueueResource.URL), so
// the adapter never needs to track the url<->name mapping itself.
func (a *Adapter) queueFromURL(queueURL string) (*bus.QueueResource, *bus.Error) {
	name := queueURL
	if idx := strings.LastIndex(queueURL, "/"); idx >= 0 {
		name = queueURL[idx+1:]
	}
	q, err := a.Bus.GetQueue(name)
	if err != nil {
		return nil, err.(*bus.Error)
	}
	return q, nil
}

type createQueueRequest struct {
	QueueName  string            `json:"QueueName"`
	Attributes map[string]string `json:"Attributes"`
	Tags       map[string]string `json:"tags"`
}

type createQueueResponse struct {
	QueueUrl string `json:"QueueUrl"`
}

func (a *Adapter) handleCreateQueue(w http.ResponseWriter, r *http.Request) int {
	var req createQueueRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, err := a.Bus.CreateQueue(r.Context(), req.QueueName, req.Attributes, req.Tags)
	if err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, createQueueResponse{QueueUrl: q.URL(a.ServiceURL)})
}

type getQueueURLRequest struct {
	QueueName string `json:"QueueName"`
}

func (a *Adapter) handleGetQueueURL(w http.ResponseWriter, r *http.Request) int {
	var req getQueueURLRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, err := a.Bus.GetQueue(req.QueueName)
	if err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, createQueueResponse{QueueUrl: q.URL(a.ServiceURL)})
}

type queueURLRequest struct {
	QueueUrl string `json:"QueueUrl"`
}

func (a *Adapter) handleDeleteQueue(w http.ResponseWriter, r *http.Request) int {
	var req queueURLRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	if _, err := a.Bus.DeleteQueue(r.Context(), q.Name); err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, struct{}{})
}

type listQueuesRequest struct {
	QueueNamePrefix string `json:"QueueNamePrefix"`
	MaxResults      int    `json:"MaxResults"`
	NextToken       string `json:"NextToken"`
}

type listQueuesResponse struct {
	QueueUrls []string `json:"QueueUrls"`
	NextToken string   `json:"NextToken,omitempty"`
}

func (a *Adapter) handleListQueues(w http.ResponseWriter, r *http.Request) int {
	var req listQueuesRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	names, next, err := a.Bus.ListQueues(req.QueueNamePrefix, req.MaxResults, req.NextToken)
	if err != nil {
		return writeBusError(w, err)
	}
	urls := make([]string, 0, len(names))
	for _, n := range names {
		q, err := a.Bus.GetQueue(n)
		if err != nil {
			continue
		}
		urls = append(urls, q.URL(a.ServiceURL))
	}
	return writeJSON(w, http.StatusOK, listQueuesResponse{QueueUrls: urls, NextToken: next})
}

type getQueueAttributesRequest struct {
	QueueUrl       string   `json:"QueueUrl"`
	AttributeNames []string `json:"AttributeNames"`
}

type getQueueAttributesResponse struct {
	Attributes map[string]string `json:"Attributes"`
}

func (a *Adapter) handleGetQueueAttributes(w http.ResponseWriter, r *http.Request) int {
	var req getQueueAttributesRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	return writeJSON(w, http.StatusOK, getQueueAttributesResponse{Attributes: a.Bus.GetQueueAttributes(q, req.AttributeNames)})
}

type setQueueAttributesRequest struct {
	QueueUrl   string            `json:"QueueUrl"`
	Attributes map[string]string `json:"Attributes"`
}

func (a *Adapter) handleSetQueueAttributes(w http.ResponseWriter, r *http.Request) int {
	var req setQueueAttributesRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	if err := a.Bus.SetQueueAttributes(r.Context(), q, req.Attributes); err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, struct{}{})
}

type tagQueueRequest struct {
	QueueUrl string            `json:"QueueUrl"`
	Tags     map[string]string `json:"Tags"`
}

func (a *Adapter) handleTagQueue(w http.ResponseWriter, r *http.Request) int {
	var req tagQueueRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	a.Bus.TagQueue(q, req.Tags)
	return writeJSON(w, http.StatusOK, struct{}{})
}

type untagQueueRequest struct {
	QueueUrl string   `json:"QueueUrl"`
	TagKeys  []string `json:"TagKeys"`
}

func (a *Adapter) handleUntagQueue(w http.ResponseWriter, r *http.Request) int {
	var req untagQueueRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	a.Bus.UntagQueue(q, req.TagKeys)
	return writeJSON(w, http.StatusOK, struct{}{})
}

type listQueueTagsResponse struct {
	Tags map[string]string `json:"Tags"`
}

func (a *Adapter) handleListQueueTags(w http.ResponseWriter, r *http.Request) int {
	var req queueURLRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	return writeJSON(w, http.StatusOK, listQueueTagsResponse{Tags: a.Bus.ListQueueTags(q)})
}

// sendMessageRequest reuses sqstypes.MessageAttributeValue for
// MessageAttributes: encoding/json base64-encodes its []byte BinaryValue
// field the same way the real wire protocol does, so no custom shape is
// needed here.
type sendMessageRequest struct {
	QueueUrl               string                                    `json:"QueueUrl"`
	MessageBody            string                                    `json:"MessageBody"`
	DelaySeconds           *int                                      `json:"DelaySeconds"`
	MessageAttributes      map[string]sqstypes.MessageAttributeValue `json:"MessageAttributes"`
	MessageGroupId         string                                    `json:"MessageGroupId"`
	MessageDeduplicationId string                                    `json:"MessageDeduplicationId"`
}

type sendMessageResponse struct {
	MessageId              string `json:"MessageId"`
	MD5OfMessageBody       string `json:"MD5OfMessageBody"`
	MD5OfMessageAttributes string `json:"MD5OfMessageAttributes,omitempty"`
	SequenceNumber         string `json:"SequenceNumber,omitempty"`
}

func (a *Adapter) handleSendMessage(w http.ResponseWriter, r *http.Request) int {
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	out, err := a.Bus.SendMessage(r.Context(), q, bus.SendMessageInput{
		Body:                   req.MessageBody,
		Attributes:             attrsFromWire(req.MessageAttributes),
		DelaySeconds:           req.DelaySeconds,
		MessageGroupID:         req.MessageGroupId,
		MessageDeduplicationID: req.MessageDeduplicationId,
	})
	if err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, sendMessageResponse{
		MessageId:              out.MessageID,
		MD5OfMessageBody:       out.MD5OfBody,
		MD5OfMessageAttributes: out.MD5OfMessageAttributes,
		SequenceNumber:         out.SequenceNumber,
	})
}

type sendMessageBatchEntryWire struct {
	Id                     string                                    `json:"Id"`
	MessageBody            string                                    `json:"MessageBody"`
	DelaySeconds           *int                                      `json:"DelaySeconds"`
	MessageAttributes      map[string]sqstypes.MessageAttributeValue `json:"MessageAttributes"`
	MessageGroupId         string                                    `json:"MessageGroupId"`
	MessageDeduplicationId string                                    `json:"MessageDeduplicationId"`
}

type sendMessageBatchRequest struct {
	QueueUrl string                      `json:"QueueUrl"`
	Entries  []sendMessageBatchEntryWire `json:"Entries"`
}

type sendMessageBatchResponse struct {
	Successful []sqstypes.SendMessageBatchResultEntry `json:"Successful"`
	Failed     []sqstypes.BatchResultErrorEntry        `json:"Failed"`
}

func (a *Adapter) handleSendMessageBatch(w http.ResponseWriter, r *http.Request) int {
	var req sendMessageBatchRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}

	entries := make([]bus.SendMessageBatchEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, bus.SendMessageBatchEntry{
			ID: e.Id,
			Input: bus.SendMessageInput{
				Body:                   e.MessageBody,
				Attributes:             attrsFromWire(e.MessageAttributes),
				DelaySeconds:           e.DelaySeconds,
				MessageGroupID:         e.MessageGroupId,
				MessageDeduplicationID: e.MessageDeduplicationId,
			},
		})
	}

	results, err := a.Bus.SendMessageBatch(r.Context(), q, entries)
	if err != nil {
		return writeBusError(w, err)
	}

	resp := sendMessageBatchResponse{}
	for _, res := range results {
		if res.Err != nil {
			resp.Failed = append(resp.Failed, sqstypes.BatchResultErrorEntry{
				Id: strPtr(res.ID), Code: strPtr(res.Err.Kind.String()), Message: strPtr(res.Err.Message), SenderFault: true,
			})
			continue
		}
		resp.Successful = append(resp.Successful, sqstypes.SendMessageBatchResultEntry{
			Id: strPtr(res.ID), MessageId: strPtr(res.Output.MessageID), MD5OfMessageBody: strPtr(res.Output.MD5OfBody),
			MD5OfMessageAttributes: strPtr(res.Output.MD5OfMessageAttributes), SequenceNumber: strPtr(res.Output.SequenceNumber),
		})
	}
	return writeJSON(w, http.StatusOK, resp)
}

type receiveMessageRequest struct {
	QueueUrl            string   `json:"QueueUrl"`
	MaxNumberOfMessages int      `json:"MaxNumberOfMessages"`
	WaitTimeSeconds     int      `json:"WaitTimeSeconds"`
	VisibilityTimeout   *int     `json:"VisibilityTimeout"`
	AttributeNames      []string `json:"AttributeNames"`
}

type receiveMessageResponse struct {
	Messages []sqstypes.Message `json:"Messages,omitempty"`
}

func (a *Adapter) handleReceiveMessage(w http.ResponseWriter, r *http.Request) int {
	var req receiveMessageRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}

	var visibility *time.Duration
	if req.VisibilityTimeout != nil {
		d := time.Duration(*req.VisibilityTimeout) * time.Second
		visibility = &d
	}

	msgs, err := a.Bus.ReceiveMessage(r.Context(), q, bus.ReceiveMessageInput{
		MaxMessages:               req.MaxNumberOfMessages,
		WaitTime:                  time.Duration(req.WaitTimeSeconds) * time.Second,
		VisibilityTimeout:         visibility,
		RequestedSystemAttributes: req.AttributeNames,
	})
	if err != nil {
		return writeBusError(w, err)
	}

	out := make([]sqstypes.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToWire(m))
	}
	return writeJSON(w, http.StatusOK, receiveMessageResponse{Messages: out})
}

type deleteMessageRequest struct {
	QueueUrl      string `json:"QueueUrl"`
	ReceiptHandle string `json:"ReceiptHandle"`
}

func (a *Adapter) handleDeleteMessage(w http.ResponseWriter, r *http.Request) int {
	var req deleteMessageRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	if err := a.Bus.DeleteMessage(r.Context(), q, req.ReceiptHandle); err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, struct{}{})
}

type deleteMessageBatchEntryWire struct {
	Id            string `json:"Id"`
	ReceiptHandle string `json:"ReceiptHandle"`
}

type deleteMessageBatchRequest struct {
	QueueUrl string                        `json:"QueueUrl"`
	Entries  []deleteMessageBatchEntryWire `json:"Entries"`
}

type deleteMessageBatchResponse struct {
	Successful []sqstypes.DeleteMessageBatchResultEntry `json:"Successful"`
	Failed     []sqstypes.BatchResultErrorEntry          `json:"Failed"`
}

func (a *Adapter) handleDeleteMessageBatch(w http.ResponseWriter, r *http.Request) int {
	var req deleteMessageBatchRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}

	entries := make(map[string]string, len(req.Entries))
	for _, e := range req.Entries {
		entries[e.Id] = e.ReceiptHandle
	}
	succeeded, failed := a.Bus.DeleteMessageBatch(r.Context(), q, entries)

	resp := deleteMessageBatchResponse{}
	for _, id := range succeeded {
		resp.Successful = append(resp.Successful, sqstypes.DeleteMessageBatchResultEntry{Id: strPtr(id)})
	}
	for id, e := range failed {
		resp.Failed = append(resp.Failed, sqstypes.BatchResultErrorEntry{Id: strPtr(id), Code: strPtr(e.Kind.String()), Message: strPtr(e.Message), SenderFault: true})
	}
	return writeJSON(w, http.StatusOK, resp)
}

type changeMessageVisibilityRequest struct {
	QueueUrl          string `json:"QueueUrl"`
	ReceiptHandle     string `json:"ReceiptHandle"`
	VisibilityTimeout int    `json:"VisibilityTimeout"`
}

func (a *Adapter) handleChangeMessageVisibility(w http.ResponseWriter, r *http.Request) int {
	var req changeMessageVisibilityRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	if err := a.Bus.ChangeMessageVisibility(r.Context(), q, req.ReceiptHandle, time.Duration(req.VisibilityTimeout)*time.Second); err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, struct{}{})
}

type changeMessageVisibilityBatchEntryWire struct {
	Id                string `json:"Id"`
	ReceiptHandle     string `json:"ReceiptHandle"`
	VisibilityTimeout int    `json:"VisibilityTimeout"`
}

type changeMessageVisibilityBatchRequest struct {
	QueueUrl string                                  `json:"QueueUrl"`
	Entries  []changeMessageVisibilityBatchEntryWire `json:"Entries"`
}

type changeMessageVisibilityBatchResponse struct {
	Successful []sqstypes.ChangeMessageVisibilityBatchResultEntry `json:"Successful"`
	Failed     []sqstypes.BatchResultErrorEntry                    `json:"Failed"`
}

func (a *Adapter) handleChangeMessageVisibilityBatch(w http.ResponseWriter, r *http.Request) int {
	var req changeMessageVisibilityBatchRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}

	entries := make([]bus.ChangeVisibilityBatchEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, bus.ChangeVisibilityBatchEntry{
			ID: e.Id, ReceiptHandle: e.ReceiptHandle, VisibilityTimeout: time.Duration(e.VisibilityTimeout) * time.Second,
		})
	}
	succeeded, failed := a.Bus.ChangeMessageVisibilityBatch(r.Context(), q, entries)

	resp := changeMessageVisibilityBatchResponse{}
	for _, id := range succeeded {
		resp.Successful = append(resp.Successful, sqstypes.ChangeMessageVisibilityBatchResultEntry{Id: strPtr(id)})
	}
	for id, e := range failed {
		resp.Failed = append(resp.Failed, sqstypes.BatchResultErrorEntry{Id: strPtr(id), Code: strPtr(e.Kind.String()), Message: strPtr(e.Message), SenderFault: true})
	}
	return writeJSON(w, http.StatusOK, resp)
}

func (a *Adapter) handlePurgeQueue(w http.ResponseWriter, r *http.Request) int {
	var req queueURLRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	if err := a.Bus.PurgeQueue(r.Context(), q); err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, struct{}{})
}

type addPermissionRequest struct {
	QueueUrl     string   `json:"QueueUrl"`
	Label        string   `json:"Label"`
	AWSAccountIds []string `json:"AWSAccountIds"`
	Actions      []string `json:"Actions"`
}

func (a *Adapter) handleAddPermission(w http.ResponseWriter, r *http.Request) int {
	var req addPermissionRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	if err := a.Bus.AddPermission(q, req.Label, req.AWSAccountIds, req.Actions); err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, struct{}{})
}

type removePermissionRequest struct {
	QueueUrl string `json:"QueueUrl"`
	Label    string `json:"Label"`
}

func (a *Adapter) handleRemovePermission(w http.ResponseWriter, r *http.Request) int {
	var req removePermissionRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	q, berr := a.queueFromURL(req.QueueUrl)
	if berr != nil {
		return writeBusError(w, berr)
	}
	if err := a.Bus.RemovePermission(q, req.Label); err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, struct{}{})
}

type startMessageMoveTaskRequest struct {
	SourceArn                    string `json:"SourceArn"`
	DestinationArn               string `json:"DestinationArn"`
	MaxNumberOfMessagesPerSecond int    `json:"MaxNumberOfMessagesPerSecond"`
}

type startMessageMoveTaskResponse struct {
	TaskHandle string `json:"TaskHandle"`
}

func (a *Adapter) handleStartMessageMoveTask(w http.ResponseWriter, r *http.Request) int {
	var req startMessageMoveTaskRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	task, err := a.Bus.StartMessageMoveTask(r.Context(), req.SourceArn, req.DestinationArn, req.MaxNumberOfMessagesPerSecond)
	if err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, startMessageMoveTaskResponse{TaskHandle: task.Handle})
}

type cancelMessageMoveTaskRequest struct {
	TaskHandle string `json:"TaskHandle"`
}

type cancelMessageMoveTaskResponse struct {
	ApproximateNumberOfMessagesMoved int64 `json:"ApproximateNumberOfMessagesMoved"`
}

func (a *Adapter) handleCancelMessageMoveTask(w http.ResponseWriter, r *http.Request) int {
	var req cancelMessageMoveTaskRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	if err := a.Bus.CancelMessageMoveTask(req.TaskHandle); err != nil {
		return writeBusError(w, err)
	}
	return writeJSON(w, http.StatusOK, cancelMessageMoveTaskResponse{})
}

type listMessageMoveTasksRequest struct {
	SourceArn  string `json:"SourceArn"`
	MaxResults int    `json:"MaxResults"`
}

type moveTaskResultEntry struct {
	TaskHandle                        string `json:"TaskHandle"`
	Status                            string `json:"Status"`
	SourceArn                         string `json:"SourceArn"`
	DestinationArn                    string `json:"DestinationArn,omitempty"`
	MaxNumberOfMessagesPerSecond      int    `json:"MaxNumberOfMessagesPerSecond"`
	ApproximateNumberOfMessagesMoved  int64  `json:"ApproximateNumberOfMessagesMoved"`
	ApproximateNumberOfMessagesToMove int64  `json:"ApproximateNumberOfMessagesToMove"`
}

type listMessageMoveTasksResponse struct {
	Results []moveTaskResultEntry `json:"Results"`
}

func (a *Adapter) handleListMessageMoveTasks(w http.ResponseWriter, r *http.Request) int {
	var req listMessageMoveTasksRequest
	if err := decode(r, &req); err != nil {
		return writeBusError(w, err)
	}
	tasks := a.Bus.ListMessageMoveTasks(req.SourceArn)
	if req.MaxResults > 0 && len(tasks) > req.MaxResults {
		tasks = tasks[:req.MaxResults]
	}

	resp := listMessageMoveTasksResponse{}
	for _, t := range tasks {
		resp.Results = append(resp.Results, moveTaskResultEntry{
			TaskHandle: t.Handle, Status: t.Status().String(), SourceArn: t.SourceArn,
			DestinationArn: t.DestArn, MaxNumberOfMessagesPerSecond: t.MaxPerSecond,
			ApproximateNumberOfMessagesMoved: t.Moved(), ApproximateNumberOfMessagesToMove: t.ToMove(),
		})
	}
	return writeJSON(w, http.StatusOK, resp)
}
